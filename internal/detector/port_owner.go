package detector

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNoOwner is returned when no process holds a listening socket on the
// queried port.
var ErrNoOwner = errors.New("no process owns the port")

// OwnerPID looks up the PID of the process listening on the given TCP port
// via the OS socket table (lsof). It returns ErrNoOwner when the port is
// free. When several PIDs share the socket (pre-fork servers), the first
// one is returned; killing its process group takes the rest down with it.
func OwnerPID(port int) (int, error) {
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %d", port)
	}
	// ok: arguments are derived from a validated integer
	// #nosec G204
	cmd := exec.Command("lsof", "-ti", fmt.Sprintf("tcp:%d", port), "-sTCP:LISTEN")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			// lsof exits 1 when nothing matched
			return 0, ErrNoOwner
		}
		return 0, err
	}
	return parseFirstPID(out.String())
}

func parseFirstPID(s string) (int, error) {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			return 0, fmt.Errorf("unexpected lsof output %q: %w", line, err)
		}
		if pid > 0 {
			return pid, nil
		}
	}
	return 0, ErrNoOwner
}
