package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/habistack/stackctl/internal/config"
	"github.com/habistack/stackctl/internal/history"
	"github.com/habistack/stackctl/internal/logger"
	"github.com/habistack/stackctl/internal/metrics"
	"github.com/habistack/stackctl/internal/server"
	"github.com/habistack/stackctl/internal/supervisor"
)

// command binds the CLI actions to a lazily-built supervisor. Every action
// loads config, opens the history sink and runs one supervisor operation;
// the process exits afterwards, so nothing is cached between actions.
type command struct {
	global *GlobalFlags
}

// build resolves config and constructs the supervisor plus its sink.
// The sink is best-effort: a broken history database only warns.
func (c *command) build() (*supervisor.Supervisor, history.Sink, *config.Config, error) {
	cfg, err := config.Load(c.global.ConfigPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := slog.LevelInfo
	if c.global.Debug {
		level = slog.LevelDebug
	}
	log := logger.NewCLILogger(level)

	sup := supervisor.New(cfg)
	sup.SetLogger(log)

	var sink history.Sink
	if cfg.HistoryPath != "" {
		db, err := history.New(cfg.HistoryPath)
		if err != nil {
			log.Warn("history database unavailable", "path", cfg.HistoryPath, "error", err)
		} else if err := db.EnsureSchema(context.Background()); err != nil {
			log.Warn("history schema init failed", "error", err)
			_ = db.Close()
		} else {
			sink = db
			sup.SetSink(sink)
		}
	}
	return sup, sink, cfg, nil
}

func closeSink(sink history.Sink) {
	if sink != nil {
		_ = sink.Close()
	}
}

// Start runs the full startup sequence. It returns a non-nil error when any
// service fails to come up, which the CLI maps to a non-zero exit.
func (c *command) Start() error {
	sup, sink, _, err := c.build()
	if err != nil {
		return err
	}
	defer closeSink(sink)
	return sup.Start(context.Background())
}

// Stop terminates all services. Always succeeds.
func (c *command) Stop() error {
	sup, sink, _, err := c.build()
	if err != nil {
		return err
	}
	defer closeSink(sink)
	sup.Stop(context.Background())
	return nil
}

// Restart stops then starts; propagates the start outcome.
func (c *command) Restart() error {
	sup, sink, _, err := c.build()
	if err != nil {
		return err
	}
	defer closeSink(sink)
	return sup.Restart(context.Background())
}

// Status reports service and route state. Always succeeds.
func (c *command) Status(f StatusFlags) error {
	sup, sink, _, err := c.build()
	if err != nil {
		return err
	}
	defer closeSink(sink)
	st := sup.Status(context.Background())
	if f.JSON {
		printJSON(st)
		return nil
	}
	printStatus(st)
	return nil
}

// RouteSync re-registers the proxy routes and reports status. Registration
// failures are warnings only; the command always exits zero.
func (c *command) RouteSync() error {
	sup, sink, _, err := c.build()
	if err != nil {
		return err
	}
	defer closeSink(sink)
	ctx := context.Background()
	sup.SyncRoutes(ctx)
	printStatus(sup.Status(ctx))
	return nil
}

// History prints recent supervisor actions from the sqlite log.
func (c *command) History(f HistoryFlags) error {
	_, sink, _, err := c.build()
	if err != nil {
		return err
	}
	defer closeSink(sink)
	if sink == nil {
		fmt.Println("history disabled (no database configured)")
		return nil
	}
	recs, err := sink.Recent(context.Background(), f.Limit)
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}
	if f.JSON {
		printJSON(recs)
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tACTION\tSERVICE\tPID\tOK\tDETAIL")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\t%s\n",
			r.At.Local().Format("2006-01-02 15:04:05"), r.Action, r.Service, r.PID, r.OK, r.Detail)
	}
	return w.Flush()
}

// Serve runs the local control API until interrupted.
func (c *command) Serve(f ServeFlags) error {
	sup, sink, cfg, err := c.build()
	if err != nil {
		return err
	}
	defer closeSink(sink)

	if err := metrics.RegisterDefault(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	listen := f.Listen
	if listen == "" {
		listen = cfg.ServerListen
	}
	srv, err := server.NewServer(listen, f.BasePath, sup, sink)
	if err != nil {
		return fmt.Errorf("start control API: %w", err)
	}
	fmt.Printf("stackctl control API listening on %s%s\n", listen, f.BasePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	return srv.Close()
}

// printStatus renders the human-readable status report on stdout.
func printStatus(st supervisor.StackStatus) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tPORT\tSTATE\tURL")
	for _, svc := range st.Services {
		state := "not running"
		if svc.Running {
			state = "running"
		}
		url := svc.URL
		if url == "" {
			url = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", svc.Name, svc.Port, state, url)
	}
	_ = w.Flush()

	fmt.Println()
	routes := strings.TrimSpace(st.Routes)
	if routes == "" {
		fmt.Println("no routes configured")
	} else {
		fmt.Println(routes)
	}

	if st.DNSName == "" {
		fmt.Println("node: not connected")
	} else if st.Online {
		fmt.Printf("node: %s (online)\n", st.DNSName)
	} else {
		fmt.Printf("node: %s (offline)\n", st.DNSName)
	}
}
