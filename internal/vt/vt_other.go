//go:build !linux

package vt

import (
	"errors"
	"fmt"
	"strconv"
)

// Failure wraps a VT or tty-device error with the operation that produced it.
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

var errUnsupported = errors.New("vt control not supported on this platform")

func Current() (uint, error) { return 0, &Failure{Op: "VT_GETSTATE", Err: errUnsupported} }

func Activate(n uint) error { return &Failure{Op: "VT_ACTIVATE", Err: errUnsupported} }

func DevicePath(n uint) string { return "/dev/ttyv" + strconv.FormatUint(uint64(n), 10) }

func ChownTTY(path string, uid, gid int) error {
	return &Failure{Op: "chown", Err: errUnsupported}
}

func ResetTTY(path string) error { return &Failure{Op: "chown", Err: errUnsupported} }
