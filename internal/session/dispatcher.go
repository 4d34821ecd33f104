package session

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/coastalwhite/lemurs/internal/utmpx"
)

// ErrExecFailed means the session child could not be started at all.
var ErrExecFailed = errors.New("could not start session")

// CrashError reports a session program that exited nonzero.
type CrashError struct {
	Status int
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("session exited with status %d", e.Status)
}

// DispatchConfig describes how to run the chosen session program.
//
// The child drops to the target user before exec: the kernel applies
// setgroups, setgid, setuid (in that order) from Credential, so
// supplementary groups survive the drop.
type DispatchConfig struct {
	// Descriptor is the chosen session.
	Descriptor Descriptor

	// UID, GID and Groups are the target identity.
	UID    uint32
	GID    uint32
	Groups []uint32

	// Home is the child's working directory; a missing home falls back
	// to the filesystem root.
	Home string

	// Env is the fully composed environment; the child gets exactly
	// this set.
	Env []string

	// TTY, when non-nil, becomes the child's controlling terminal and
	// stdin. TTYName (no /dev/ prefix) keys the accounting record.
	TTY     *os.File
	TTYName string

	// Output receives the child's stdout and stderr.
	Output *os.File

	// Utmp records the session; nil skips accounting (preview).
	Utmp *utmpx.Writer

	// Username for the accounting record.
	Username string

	// OnStarted fires once the child process exists, before the wait.
	// The info cache write hangs off this.
	OnStarted func(pid int)
}

// Dispatch runs the session to completion.
//
// The lifecycle:
//  1. Build the child: /bin/sh -lc <exec>, dropped credentials, session
//     leader on the controlling tty, composed environment only.
//  2. Start it; write the USER_PROCESS record with the child pid.
//  3. Wait; write the matching DEAD_PROCESS record.
//
// Accounting failures never abort the session; they are not reported back
// to the caller.
func Dispatch(cfg DispatchConfig) error {
	cmd, err := buildCommand(cfg)
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrExecFailed, err)
	}
	pid := cmd.Process.Pid
	if cfg.OnStarted != nil {
		cfg.OnStarted(pid)
	}

	var record *utmpx.Record
	if cfg.Utmp != nil {
		record, err = cfg.Utmp.Login(cfg.TTYName, pid, cfg.Username)
		if err != nil {
			record = nil
		}
	}

	waitErr := cmd.Wait()

	if record != nil {
		cfg.Utmp.Logout(record)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &CrashError{Status: exitErr.ExitCode()}
		}
		return fmt.Errorf("waiting for session: %w", waitErr)
	}
	return nil
}

// buildCommand assembles the exec.Cmd without starting it. Split out so
// the privilege-drop wiring is testable without root.
func buildCommand(cfg DispatchConfig) (*exec.Cmd, error) {
	script := cfg.Descriptor.Exec
	if script == "" {
		return nil, fmt.Errorf("%w: empty session command", ErrExecFailed)
	}

	cmd := exec.Command("/bin/sh", "-lc", script)
	cmd.Env = cfg.Env

	cmd.Dir = "/"
	if cfg.Home != "" {
		if info, err := os.Stat(cfg.Home); err == nil && info.IsDir() {
			cmd.Dir = cfg.Home
		}
	}

	attr := &syscall.SysProcAttr{Setsid: true}
	if cfg.UID != 0 {
		attr.Credential = &syscall.Credential{
			Uid:    cfg.UID,
			Gid:    cfg.GID,
			Groups: cfg.Groups,
		}
	} else {
		return nil, fmt.Errorf("%w: refusing to run a session as root", ErrExecFailed)
	}

	if cfg.TTY != nil {
		cmd.Stdin = cfg.TTY
		attr.Setctty = true
	}
	cmd.SysProcAttr = attr

	if cfg.Output != nil {
		cmd.Stdout = cfg.Output
		cmd.Stderr = cfg.Output
	}
	return cmd, nil
}
