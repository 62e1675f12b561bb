package process

import (
	"bytes"
	"os"
	"runtime"
	"strconv"
	"syscall"
	"time"
)

// Launch starts the spec's command as a detached child process and returns
// its PID. The child runs in its own session so it survives supervisor
// exit; the supervisor does not manage it beyond the initial liveness
// probe. Captured output goes to the spec's log writers when configured,
// otherwise to /dev/null.
func Launch(spec Spec) (int, error) {
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureSysProcAttr(cmd)

	if spec.Log.Dir != "" || spec.Log.StdoutPath != "" || spec.Log.StderrPath != "" {
		if spec.Log.Dir != "" {
			_ = os.MkdirAll(spec.Log.Dir, 0o750)
		}
		outW, errW, _ := spec.Log.Writers(spec.Name)
		if outW != nil {
			cmd.Stdout = outW
		} else {
			cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
		if errW != nil {
			cmd.Stderr = errW
		} else {
			cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// Reap in the background so a child that exits while this invocation is
	// still alive does not linger as a zombie. Long-lived children are
	// reparented to init when the supervisor exits first.
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

// Alive reports whether a process with the given PID is running.
// Zombies count as dead: the port they held is already released.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	return processExists(pid)
}

// Terminate sends SIGTERM to the process group of pid and escalates to
// SIGKILL when the process is still alive after wait. A missing process is
// not an error.
func Terminate(pid int, wait time.Duration) error {
	if pid <= 0 {
		return nil
	}
	if !Alive(pid) {
		return nil
	}
	// Signal the whole group; Launch put the child in its own session.
	if err := killProcess(-pid, syscall.SIGTERM); err != nil {
		// Group may be gone already; retry against the single process.
		if err := killProcess(pid, syscall.SIGTERM); err != nil {
			return err
		}
	}
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	_ = killProcess(-pid, syscall.SIGKILL)
	_ = killProcess(pid, syscall.SIGKILL)
	return nil
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z) on Linux.
func isZombieLinux(pid int) bool {
	path := "/proc/" + strconv.Itoa(pid) + "/status"
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
