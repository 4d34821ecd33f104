package engine

import (
	"fmt"
	"time"

	"github.com/coastalwhite/lemurs/internal/auth"
	"github.com/coastalwhite/lemurs/internal/cache"
	"github.com/coastalwhite/lemurs/internal/enviro"
	"github.com/coastalwhite/lemurs/internal/logging"
	"github.com/coastalwhite/lemurs/internal/session"
	"github.com/coastalwhite/lemurs/internal/vt"
	"github.com/coastalwhite/lemurs/internal/xorg"
)

// attemptScope stacks teardown steps as resources are acquired. Teardown
// runs in reverse acquisition order, is idempotent, and is triggered both
// on the happy path and from the deferred guard, so panics unwind the
// same way errors do.
type attemptScope struct {
	cleanups []func()
	done     bool
}

func (s *attemptScope) onCleanup(f func()) {
	s.cleanups = append(s.cleanups, f)
}

func (s *attemptScope) teardown() {
	if s.done {
		return
	}
	s.done = true
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
}

// runAttempt is the pipeline: PAM open, environment composition, X
// provisioning, dispatch, reverse teardown. Every acquired resource is
// registered on the scope before the next acquisition.
func (e *Engine) runAttempt(a Attempt) error {
	desc, err := session.Find(e.descriptors, a.SessionName)
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrExecFailed, err)
	}

	ttyNr := e.cfg.TTY
	if current, err := e.hooks.currentVT(); err == nil {
		ttyNr = current
	}
	ttyName := fmt.Sprintf("tty%d", ttyNr)

	scope := &attemptScope{}
	defer scope.teardown()

	// PAM forward half. Busy precedes the blocking calls.
	e.send(Busy{})
	creds := auth.Credentials{Username: a.Username, Secret: a.Secret}
	pamSess, err := e.hooks.openPAM(auth.Config{
		Service: e.cfg.PamService,
		TTY:     ttyName,
		Conv:    &engineConv{e: e, timeout: e.cfg.AuthTimeout()},
	}, &creds)
	if err != nil {
		return err
	}
	scope.onCleanup(func() {
		if err := pamSess.Close(); err != nil {
			e.log.Error("pam teardown", "err", err)
		}
	})
	passwd := pamSess.User()
	e.log.Info("authenticated", "user", passwd.Username, "session", desc.Name, "kind", desc.Kind.String())

	// Environment: snapshot, PAM exports, then the login set.
	env := enviro.New()
	scope.onCleanup(func() {
		if err := env.Restore(); err != nil {
			e.log.Error("environment restore", "err", err)
		}
	})
	for name, value := range pamSess.Environ() {
		if err := env.Set(name, value); err != nil {
			return fmt.Errorf("importing pam environment: %w", err)
		}
	}
	if err := enviro.Compose(env, enviro.ComposeConfig{
		User: enviro.User{
			UID:      passwd.UID,
			GID:      passwd.GID,
			Username: passwd.Username,
			Home:     passwd.Home,
			Shell:    passwd.Shell,
		},
		SessionName: desc.Name,
		Type:        sessionType(desc.Kind),
		VT:          ttyNr,
		Path:        e.cfg.Path,
	}); err != nil {
		return err
	}

	// X server for X11 sessions, before the child so DISPLAY is final.
	if desc.Kind == session.KindX11 {
		xlog := logging.Sink(e.cfg.Log.XorgPath, false)
		if xlog != nil {
			scope.onCleanup(func() { xlog.Close() })
		}
		server, err := e.hooks.startX(xorg.Config{
			Binary:     e.cfg.X11.XorgBin,
			XauthBin:   e.cfg.X11.XauthBin,
			VT:         ttyNr,
			RuntimeDir: enviro.RuntimeDir(env),
			Log:        xlog,
			Timeout:    e.cfg.XorgTimeout(),
		})
		if err != nil {
			return err
		}
		scope.onCleanup(server.Stop)
		if err := enviro.SetDisplay(env, server.Display(), server.AuthorityPath()); err != nil {
			return err
		}
	}

	// Hand the terminal to the user for the session's lifetime.
	ttyPath := vt.DevicePath(ttyNr)
	if err := e.hooks.chownTTY(ttyPath, passwd.UID, passwd.GID); err != nil {
		e.log.Error("tty handover", "err", err)
	} else {
		scope.onCleanup(func() {
			if err := e.hooks.resetTTY(ttyPath); err != nil {
				e.log.Error("tty reset", "err", err)
			}
		})
	}

	// The child needs the device itself: it becomes the session's
	// controlling terminal and stdin.
	ttyFile, err := e.hooks.openTTY(ttyPath)
	if err != nil {
		e.log.Error("opening tty", "path", ttyPath, "err", err)
		ttyFile = nil
	} else {
		scope.onCleanup(func() { ttyFile.Close() })
	}

	if desc.Kind == session.KindTTY && desc.Exec == "" {
		desc.Exec = passwd.Shell
	}

	clientLog := logging.Sink(e.cfg.Log.ClientPath, false)
	if clientLog != nil {
		scope.onCleanup(func() { clientLog.Close() })
	}

	started := false
	dispatchErr := e.hooks.dispatch(session.DispatchConfig{
		Descriptor: desc,
		UID:        uint32(passwd.UID),
		GID:        uint32(passwd.GID),
		Groups:     passwd.Groups,
		Home:       passwd.Home,
		Env:        enviro.Environ(),
		TTY:        ttyFile,
		TTYName:    ttyName,
		Output:     clientLog,
		Utmp:       e.utmp,
		Username:   passwd.Username,
		OnStarted: func(pid int) {
			started = true
			e.log.Info("session started", "pid", pid)
			if err := e.hooks.writeCache(e.cfg.CachePath, cache.Info{
				LastSession:  desc.Name,
				LastUsername: passwd.Username,
			}); err != nil {
				e.log.Warn("info cache write failed", "err", err)
			}
			e.send(SessionStarted{})
		},
	})

	if started {
		status := 0
		if crash, ok := dispatchErr.(*session.CrashError); ok {
			status = crash.Status
		}
		e.send(SessionEnded{ExitStatus: status})
		e.log.Info("session ended", "status", status)
	}

	// Reverse teardown: tty reset, X stop, env restore, PAM close.
	scope.teardown()

	if dispatchErr != nil {
		return dispatchErr
	}
	return nil
}

func sessionType(kind session.Kind) enviro.SessionType {
	switch kind {
	case session.KindX11:
		return enviro.SessionX11
	case session.KindWayland:
		return enviro.SessionWayland
	default:
		return enviro.SessionTTY
	}
}

// engineConv bridges PAM prompts onto the protocol channels. It reads
// replies straight off FromUI: the engine goroutine is blocked inside the
// PAM call, so the conversation is the channel's consumer for the
// duration.
type engineConv struct {
	e       *Engine
	timeout time.Duration
}

func (c *engineConv) Input(prompt string, echo bool) (string, error) {
	c.e.send(Prompt{Text: prompt, Echo: echo})

	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()
	for {
		select {
		case msg, ok := <-c.e.FromUI:
			if !ok {
				return "", auth.ErrTimeout
			}
			switch m := msg.(type) {
			case InputResponse:
				return m.Text, nil
			case Quit:
				// Aborts the attempt; the PAM call fails with a
				// conversation error and teardown runs.
				return "", auth.ErrTimeout
			default:
				// Attempts queued mid-conversation are dropped.
			}
		case <-deadline.C:
			return "", auth.ErrTimeout
		}
	}
}

func (c *engineConv) Info(text string) {
	c.e.send(Info{Text: text})
}

func (c *engineConv) ErrorMsg(text string) {
	c.e.send(Error{Text: text})
}
