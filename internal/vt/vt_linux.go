//go:build linux

// Package vt drives kernel virtual terminals: querying the active VT,
// switching, and handing tty device ownership across the login boundary.
package vt

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	vtGetState   = 0x5603
	vtActivate   = 0x5606
	vtWaitActive = 0x5607
)

// consolePaths are tried in order when querying VT state.
var consolePaths = []string{"/dev/console", "/dev/tty0"}

// Failure wraps a VT or tty-device error with the operation that produced
// it. Callers log these; they never abort cleanup.
type Failure struct {
	Op  string
	Err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("vt %s: %v", f.Op, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// vtState mirrors the kernel's struct vt_stat.
type vtState struct {
	Active uint16
	Signal uint16
	State  uint16
}

// Current returns the number of the active virtual terminal.
func Current() (uint, error) {
	var lastErr error
	for _, path := range consolePaths {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			lastErr = err
			continue
		}
		var state vtState
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), vtGetState, uintptr(unsafe.Pointer(&state)))
		f.Close()
		if errno != 0 {
			lastErr = errno
			continue
		}
		return uint(state.Active), nil
	}
	return 0, &Failure{Op: "VT_GETSTATE", Err: lastErr}
}

// Activate switches to the given VT and waits until the switch completed.
func Activate(n uint) error {
	var lastErr error
	for _, path := range consolePaths {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			lastErr = err
			continue
		}
		defer f.Close()
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), vtActivate, uintptr(n)); errno != 0 {
			return &Failure{Op: "VT_ACTIVATE", Err: errno}
		}
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), vtWaitActive, uintptr(n)); errno != 0 {
			return &Failure{Op: "VT_WAITACTIVE", Err: errno}
		}
		return nil
	}
	return &Failure{Op: "open console", Err: lastErr}
}

// DevicePath returns the device node for a VT number.
func DevicePath(n uint) string {
	return "/dev/tty" + strconv.FormatUint(uint64(n), 10)
}

// ChownTTY hands the tty device to the session user.
func ChownTTY(path string, uid, gid int) error {
	if err := os.Chown(path, uid, gid); err != nil {
		return &Failure{Op: "chown", Err: err}
	}
	if err := os.Chmod(path, 0600); err != nil {
		return &Failure{Op: "chmod", Err: err}
	}
	return nil
}

// ResetTTY returns the tty device to root with the conventional tty-group
// write bit, as agetty leaves it.
func ResetTTY(path string) error {
	gid := 0
	if grp, err := user.LookupGroup("tty"); err == nil {
		if parsed, err := strconv.Atoi(grp.Gid); err == nil {
			gid = parsed
		}
	}
	if err := os.Chown(path, 0, gid); err != nil {
		return &Failure{Op: "chown", Err: err}
	}
	if err := os.Chmod(path, 0620); err != nil {
		return &Failure{Op: "chmod", Err: err}
	}
	return nil
}
