//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr sets platform-specific attributes for Unix-like
// systems. Children start in a new session (setsid) so they are detached
// from the controlling terminal, survive supervisor exit, and can be
// signaled as a group via their negative PID.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
