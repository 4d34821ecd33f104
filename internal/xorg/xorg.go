// Package xorg spawns and supervises the X server for X11 sessions:
// display-number reservation, MIT-MAGIC-COOKIE-1 provisioning through
// xauth, readiness detection, and teardown.
package xorg

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	maxDisplays = 64

	// Lock files carry the server pid right-aligned in a 10-character
	// field plus a newline (11 bytes), matching the X server's own format.
	lockContentFmt = "%10d\n"
)

var (
	// ErrStartTimeout means the server did not become ready in time.
	ErrStartTimeout = errors.New("x server did not become ready")

	// ErrNoFreeDisplay means displays :0..:63 are all taken.
	ErrNoFreeDisplay = errors.New("no free display number")
)

// Directories are package vars so tests can point them at a tempdir.
var (
	lockDir   = "/tmp"
	socketDir = "/tmp/.X11-unix"
)

// Config for one server launch.
type Config struct {
	// Binary is the X server executable.
	Binary string

	// XauthBin is the xauth executable used to install the cookie.
	XauthBin string

	// VT is the virtual terminal the server takes over.
	VT uint

	// RuntimeDir hosts the xauthority file; empty falls back to a
	// temp directory.
	RuntimeDir string

	// Log receives the server's stdout and stderr.
	Log *os.File

	// Timeout bounds the readiness wait.
	Timeout time.Duration
}

// Server is a running X display. While the handle exists the server is
// alive and the cookie is installed; Stop tears both down.
type Server struct {
	DisplayNum int
	Authority  string

	pid      int
	cmd      *exec.Cmd
	lockPath string
	authDir  string
}

// Start reserves a display, installs a fresh cookie, spawns the server and
// waits for readiness.
func Start(cfg Config) (*Server, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	displayNum, lockPath, err := reserveDisplay()
	if err != nil {
		return nil, err
	}
	s := &Server{DisplayNum: displayNum, lockPath: lockPath}

	if err := s.provisionCookie(cfg); err != nil {
		s.release()
		return nil, err
	}

	// The server signals SIGUSR1 on readiness when it inherits that
	// disposition; subscribe before the child exists so the edge cannot
	// be missed. The socket poll below covers servers that do not.
	ready := make(chan os.Signal, 1)
	signal.Notify(ready, unix.SIGUSR1)
	defer signal.Stop(ready)

	display := fmt.Sprintf(":%d", displayNum)
	cmd := exec.Command(cfg.Binary, display, fmt.Sprintf("vt%d", cfg.VT), "-auth", s.Authority)
	if cfg.Log != nil {
		cmd.Stdout = cfg.Log
		cmd.Stderr = cfg.Log
	}
	if err := cmd.Start(); err != nil {
		s.release()
		return nil, fmt.Errorf("spawning %s: %w", cfg.Binary, err)
	}
	s.cmd = cmd
	s.pid = cmd.Process.Pid

	if err := writeLock(lockPath, s.pid); err != nil {
		s.Stop()
		return nil, fmt.Errorf("writing display lock: %w", err)
	}

	if err := s.awaitReady(ready, cfg.Timeout); err != nil {
		s.Stop()
		return nil, err
	}
	return s, nil
}

// reserveDisplay claims the first display number whose lock file can be
// created exclusively.
func reserveDisplay() (int, string, error) {
	for n := 0; n < maxDisplays; n++ {
		path := filepath.Join(lockDir, fmt.Sprintf(".X%d-lock", n))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return 0, "", fmt.Errorf("probing %s: %w", path, err)
		}
		f.Close()
		return n, path, nil
	}
	return 0, "", ErrNoFreeDisplay
}

func writeLock(path string, pid int) error {
	return os.WriteFile(path, []byte(fmt.Sprintf(lockContentFmt, pid)), 0644)
}

// newCookie draws a 128-bit MIT-MAGIC-COOKIE-1 from the system CSPRNG.
func newCookie() ([]byte, error) {
	cookie := make([]byte, 16)
	if _, err := rand.Read(cookie); err != nil {
		return nil, fmt.Errorf("generating cookie: %w", err)
	}
	return cookie, nil
}

// provisionCookie generates a fresh cookie and installs it with xauth.
func (s *Server) provisionCookie(cfg Config) error {
	cookie, err := newCookie()
	if err != nil {
		return err
	}

	dir := cfg.RuntimeDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "lemurs-xauth-*")
		if err != nil {
			return fmt.Errorf("creating xauthority dir: %w", err)
		}
		s.authDir = tmp
		dir = tmp
	}
	s.Authority = filepath.Join(dir, fmt.Sprintf(".lemurs-xauth-%s", uuid.NewString()))

	display := fmt.Sprintf(":%d", s.DisplayNum)
	cmd := exec.Command(cfg.XauthBin, "-f", s.Authority, "add", display,
		"MIT-MAGIC-COOKIE-1", hex.EncodeToString(cookie))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("xauth add: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *Server) awaitReady(ready <-chan os.Signal, timeout time.Duration) error {
	deadline := time.After(timeout)
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	socket := filepath.Join(socketDir, fmt.Sprintf("X%d", s.DisplayNum))
	for {
		select {
		case <-ready:
			return nil
		case <-poll.C:
			if _, err := os.Stat(socket); err == nil {
				return nil
			}
		case <-deadline:
			return ErrStartTimeout
		}
	}
}

// Stop terminates the server, removes the xauthority file, and removes
// the lock file only when its contents still name our server. Idempotent.
func (s *Server) Stop() {
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Signal(unix.SIGTERM)
		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.cmd.Process.Kill()
			<-done
		}
		s.cmd = nil
	}
	s.release()
}

// release removes the on-disk artifacts of this launch.
func (s *Server) release() {
	if s.Authority != "" {
		os.Remove(s.Authority)
		s.Authority = ""
	}
	if s.authDir != "" {
		os.RemoveAll(s.authDir)
		s.authDir = ""
	}
	if s.lockPath != "" {
		if ownsLock(s.lockPath, s.pid) {
			os.Remove(s.lockPath)
		}
		s.lockPath = ""
	}
}

// ownsLock reports whether the lock file names pid. A freshly reserved,
// not-yet-written lock is empty and also ours.
func ownsLock(path string, pid int) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return true
	}
	locked, err := strconv.Atoi(content)
	if err != nil {
		return false
	}
	return locked == pid
}
