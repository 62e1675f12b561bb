package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/habistack/stackctl/internal/logger"
	"github.com/habistack/stackctl/internal/process"
)

// Defaults for the supervisor's timing and state locations. The settle
// delay is the fixed pause after spawning (or killing a port owner) before
// the port is probed; there is no retry loop behind it.
const (
	DefaultPIDFile      = "stack.pids"
	DefaultSettleDelay  = 1 * time.Second
	DefaultKillWait     = 2 * time.Second
	DefaultStopWait     = 3 * time.Second
	DefaultHistoryPath  = "stackctl.db"
	DefaultServerListen = "127.0.0.1:8787"
)

// Config is the resolved supervisor configuration: the service stack plus
// timing, state and collaborator settings. Zero config files are fine; the
// compiled-in defaults reproduce the stock three-service deployment.
type Config struct {
	Services     []process.Spec
	PIDFile      string
	SettleDelay  time.Duration
	KillWait     time.Duration
	StopWait     time.Duration
	TailscaleBin string
	HistoryPath  string
	ServerListen string
	Log          logger.Config
}

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	PIDFile      string           `toml:"pid_file" mapstructure:"pid_file"`
	Settle       time.Duration    `toml:"settle" mapstructure:"settle"`
	KillWait     time.Duration    `toml:"kill_wait" mapstructure:"kill_wait"`
	StopWait     time.Duration    `toml:"stop_wait" mapstructure:"stop_wait"`
	TailscaleBin string           `toml:"tailscale_bin" mapstructure:"tailscale_bin"`
	Log          *logger.Config   `toml:"log" mapstructure:"log"`
	History      *HistoryConfig   `toml:"history" mapstructure:"history"`
	Server       *ServerConfig    `toml:"server" mapstructure:"server"`
	Services     []ServiceConfig  `toml:"services" mapstructure:"services"`
}

type HistoryConfig struct {
	Path string `toml:"path" mapstructure:"path"`
}

type ServerConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

type ServiceConfig struct {
	Name    string         `toml:"name" mapstructure:"name"`
	Command string         `toml:"command" mapstructure:"command"`
	Port    int            `toml:"port" mapstructure:"port"`
	Route   string         `toml:"route" mapstructure:"route"`
	WorkDir string         `toml:"workdir" mapstructure:"workdir"`
	Env     []string       `toml:"env" mapstructure:"env"`
	Log     *logger.Config `toml:"log" mapstructure:"log"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Services:     process.DefaultStack(),
		PIDFile:      DefaultPIDFile,
		SettleDelay:  DefaultSettleDelay,
		KillWait:     DefaultKillWait,
		StopWait:     DefaultStopWait,
		HistoryPath:  DefaultHistoryPath,
		ServerListen: DefaultServerListen,
	}
}

// Load reads a TOML config file and merges it over the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if fc.PIDFile != "" {
		cfg.PIDFile = fc.PIDFile
	}
	if fc.Settle > 0 {
		cfg.SettleDelay = fc.Settle
	}
	if fc.KillWait > 0 {
		cfg.KillWait = fc.KillWait
	}
	if fc.StopWait > 0 {
		cfg.StopWait = fc.StopWait
	}
	if fc.TailscaleBin != "" {
		cfg.TailscaleBin = fc.TailscaleBin
	}
	if fc.Log != nil {
		cfg.Log = *fc.Log
	}
	if fc.History != nil && fc.History.Path != "" {
		cfg.HistoryPath = fc.History.Path
	}
	if fc.Server != nil && fc.Server.Listen != "" {
		cfg.ServerListen = fc.Server.Listen
	}
	if len(fc.Services) > 0 {
		specs, err := buildSpecs(fc.Services, cfg.Log)
		if err != nil {
			return nil, err
		}
		cfg.Services = specs
	} else {
		// Defaults inherit the top-level log settings.
		for i := range cfg.Services {
			cfg.Services[i].Log = cfg.Log
		}
	}
	return cfg, nil
}

func buildSpecs(scs []ServiceConfig, base logger.Config) ([]process.Spec, error) {
	seen := make(map[string]bool, len(scs))
	ports := make(map[int]string, len(scs))
	specs := make([]process.Spec, 0, len(scs))
	for _, sc := range scs {
		// per-service log config overrides top-level defaults field by field
		logCfg := base
		if sc.Log != nil {
			if sc.Log.Dir != "" {
				logCfg.Dir = sc.Log.Dir
			}
			if sc.Log.StdoutPath != "" {
				logCfg.StdoutPath = sc.Log.StdoutPath
			}
			if sc.Log.StderrPath != "" {
				logCfg.StderrPath = sc.Log.StderrPath
			}
			if sc.Log.MaxSizeMB != 0 {
				logCfg.MaxSizeMB = sc.Log.MaxSizeMB
			}
			if sc.Log.MaxBackups != 0 {
				logCfg.MaxBackups = sc.Log.MaxBackups
			}
			if sc.Log.MaxAgeDays != 0 {
				logCfg.MaxAgeDays = sc.Log.MaxAgeDays
			}
			if sc.Log.Compress {
				logCfg.Compress = true
			}
		}
		s := process.Spec{
			Name:    sc.Name,
			Command: sc.Command,
			Port:    sc.Port,
			Route:   sc.Route,
			WorkDir: sc.WorkDir,
			Env:     sc.Env,
			Log:     logCfg,
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate service name %q", s.Name)
		}
		seen[s.Name] = true
		if other, ok := ports[s.Port]; ok {
			return nil, fmt.Errorf("service %s reuses port %d already claimed by %s", s.Name, s.Port, other)
		}
		ports[s.Port] = s.Name
		specs = append(specs, s)
	}
	return specs, nil
}
