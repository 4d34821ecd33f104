// Package logging opens the engine's structured log and the raw file
// sinks for session and X server output.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// New returns a slog.Logger appending to path. Disabled or unopenable
// logs degrade to a discard handler; a login manager must come up even
// when /var/log is sick.
func New(path string, disabled bool) *slog.Logger {
	if disabled {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Sink opens an append-only file for child process output. Returns nil
// when disabled or unopenable; exec.Cmd treats a nil file as /dev/null.
func Sink(path string, disabled bool) *os.File {
	if disabled {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil
	}
	return f
}

// Banner writes the startup line every log begins with.
func Banner(log *slog.Logger, version string) {
	log.Info(fmt.Sprintf("lemurs %s starting", version))
}
