package process

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/habistack/stackctl/internal/logger"
)

// Spec describes one supervised service: a command that, when healthy,
// binds a fixed TCP port on localhost. Route is the external URL path the
// proxy registrar maps to that port.
type Spec struct {
	Name    string        `toml:"name" mapstructure:"name"`
	Command string        `toml:"command" mapstructure:"command"`
	Port    int           `toml:"port" mapstructure:"port"`
	Route   string        `toml:"route" mapstructure:"route"`
	WorkDir string        `toml:"workdir" mapstructure:"workdir"`
	Env     []string      `toml:"env" mapstructure:"env"`
	Log     logger.Config `toml:"log" mapstructure:"log"`
}

// Target returns the local URL the proxy should forward the route to.
func (s *Spec) Target() string {
	return fmt.Sprintf("http://localhost:%d", s.Port)
}

// Validate checks the fields a spec needs before it can be launched.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("service requires name")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("service %s requires command", s.Name)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("service %s has invalid port %d", s.Name, s.Port)
	}
	if s.Route != "" && !strings.HasPrefix(s.Route, "/") {
		return fmt.Errorf("service %s route %q must start with /", s.Name, s.Route)
	}
	return nil
}

// DefaultStack returns the compiled-in set of supervised services. A config
// file may replace it, but the stock deployment is exactly these three.
func DefaultStack() []Spec {
	return []Spec{
		{Name: "frontend", Command: "python3 frontend_server.py", Port: 3000, Route: "/"},
		{Name: "stack-api", Command: "python3 stack_server.py", Port: 5000, Route: "/stack"},
		{Name: "audio-api", Command: "python3 audio_server.py", Port: 5001, Route: "/audio"},
	}
}

// BuildCommand constructs an *exec.Cmd for the given spec.Command.
// It avoids invoking a shell when not necessary, and it also respects
// an explicit shell invocation already present in the command string
// (e.g., "sh -c 'echo hi'"), avoiding double-wrapping with another shell.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	// If the command already explicitly uses a shell, honor it without adding another layer.
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// Always use absolute shell path to avoid PATH dependency when Env is overridden.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	// Fallback: when metacharacters are present, use /bin/sh -c
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// ok: intentional execution, input is validated and safe
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// If after is wrapped in single or double quotes, strip one pair so that
			// we pass the actual script to the shell (the outer quotes would otherwise
			// inhibit parsing/redirection inside the script).
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
