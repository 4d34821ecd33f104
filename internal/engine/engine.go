// Package engine owns the authenticated session-launch pipeline: PAM,
// environment composition, accounting, X provisioning, session dispatch,
// and the strict reverse-order teardown.
package engine

import (
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/coastalwhite/lemurs/internal/auth"
	"github.com/coastalwhite/lemurs/internal/cache"
	"github.com/coastalwhite/lemurs/internal/config"
	"github.com/coastalwhite/lemurs/internal/session"
	"github.com/coastalwhite/lemurs/internal/utmpx"
	"github.com/coastalwhite/lemurs/internal/vt"
	"github.com/coastalwhite/lemurs/internal/xorg"
)

const channelDepth = 8

// pamSession is the slice of auth.Session the engine uses; a seam for
// tests.
type pamSession interface {
	User() auth.Passwd
	Environ() map[string]string
	Close() error
}

// xServer is the slice of xorg.Server the engine uses.
type xServer interface {
	Display() int
	AuthorityPath() string
	Stop()
}

type realXServer struct{ *xorg.Server }

func (s realXServer) Display() int          { return s.DisplayNum }
func (s realXServer) AuthorityPath() string { return s.Authority }

// hooks are the syscall-adjacent seams, overridden in tests and bypassed
// wholesale in preview mode.
type hooks struct {
	openPAM    func(auth.Config, *auth.Credentials) (pamSession, error)
	startX     func(xorg.Config) (xServer, error)
	dispatch   func(session.DispatchConfig) error
	currentVT  func() (uint, error)
	openTTY    func(path string) (*os.File, error)
	chownTTY   func(path string, uid, gid int) error
	resetTTY   func(path string) error
	writeCache func(path string, info cache.Info) error
	runPower   func(command string) error
}

func defaultHooks() hooks {
	return hooks{
		openPAM: func(cfg auth.Config, creds *auth.Credentials) (pamSession, error) {
			return auth.Open(cfg, creds)
		},
		startX: func(cfg xorg.Config) (xServer, error) {
			s, err := xorg.Start(cfg)
			if err != nil {
				return nil, err
			}
			return realXServer{s}, nil
		},
		dispatch:  session.Dispatch,
		currentVT: vt.Current,
		openTTY: func(path string) (*os.File, error) {
			return os.OpenFile(path, os.O_RDWR, 0)
		},
		chownTTY:   vt.ChownTTY,
		resetTTY:   vt.ResetTTY,
		writeCache: cache.Write,
		runPower:   runCommand,
	}
}

func runCommand(command string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	return exec.Command(fields[0], fields[1:]...).Run()
}

// Engine runs login attempts sequentially on its own goroutine. A new
// Attempt is accepted only while idle; Quit during a session is deferred
// until the session child is reaped.
type Engine struct {
	// FromUI and ToUI are the protocol channels. The engine is the sole
	// consumer of FromUI and sole producer of ToUI.
	FromUI chan UIMessage
	ToUI   chan EngineMessage

	cfg         *config.Config
	log         *slog.Logger
	preview     bool
	descriptors []session.Descriptor
	utmp        *utmpx.Writer

	hooks hooks
}

// New assembles an engine. descriptors comes from session.Discover;
// preview short-circuits every privileged operation.
func New(cfg *config.Config, log *slog.Logger, descriptors []session.Descriptor, preview bool) *Engine {
	return &Engine{
		FromUI:      make(chan UIMessage, channelDepth),
		ToUI:        make(chan EngineMessage, channelDepth),
		cfg:         cfg,
		log:         log,
		preview:     preview,
		descriptors: descriptors,
		utmp:        utmpx.NewWriter(),
		hooks:       defaultHooks(),
	}
}

// Run consumes UI messages until Quit or channel close. It closes ToUI on
// the way out.
func (e *Engine) Run() {
	defer close(e.ToUI)
	e.send(Ready{})

	for msg := range e.FromUI {
		switch m := msg.(type) {
		case Attempt:
			e.handleAttempt(m)
			e.send(Ready{})
		case Shutdown:
			e.log.Info("shutdown requested")
			if e.preview {
				continue
			}
			if err := e.hooks.runPower(e.cfg.ShutdownCmd); err != nil {
				e.log.Error("shutdown command failed", "err", err)
				e.send(Error{Text: CatSystem.Message()})
			}
		case Reboot:
			e.log.Info("reboot requested")
			if e.preview {
				continue
			}
			if err := e.hooks.runPower(e.cfg.RebootCmd); err != nil {
				e.log.Error("reboot command failed", "err", err)
				e.send(Error{Text: CatSystem.Message()})
			}
		case Quit:
			e.log.Info("quit requested")
			return
		case InputResponse:
			// Stale reply from an attempt that already timed out.
		}
	}
}

// send never blocks forever: the UI owns draining ToUI, but a wedged UI
// must not deadlock engine teardown.
func (e *Engine) send(msg EngineMessage) {
	select {
	case e.ToUI <- msg:
	case <-time.After(5 * time.Second):
		e.log.Warn("dropping engine message, UI not draining", "msg", msg)
	}
}

// handleAttempt runs one login attempt start to finish.
func (e *Engine) handleAttempt(a Attempt) {
	if e.preview {
		e.send(Busy{})
		e.send(Info{Text: "Preview: skipping authentication"})
		e.send(SessionEnded{ExitStatus: 0})
		return
	}

	if err := e.runAttempt(a); err != nil {
		failure := classify(err)
		e.log.Error("attempt failed", "category", failure.Category.Message(), "err", err)
		e.send(Error{Text: failure.Category.Message()})
	}
}
