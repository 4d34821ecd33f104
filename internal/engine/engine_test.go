package engine

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coastalwhite/lemurs/internal/auth"
	"github.com/coastalwhite/lemurs/internal/cache"
	"github.com/coastalwhite/lemurs/internal/config"
	"github.com/coastalwhite/lemurs/internal/session"
	"github.com/coastalwhite/lemurs/internal/xorg"
)

type fakePAM struct {
	user    auth.Passwd
	environ map[string]string
	closed  int
	openErr error
}

func (f *fakePAM) User() auth.Passwd          { return f.user }
func (f *fakePAM) Environ() map[string]string { return f.environ }
func (f *fakePAM) Close() error               { f.closed++; return nil }

type fakeX struct {
	display int
	stopped int
}

func (f *fakeX) Display() int          { return f.display }
func (f *fakeX) AuthorityPath() string { return "/tmp/fake-xauth" }
func (f *fakeX) Stop()                 { f.stopped++ }

// calls records which seams fired, in order.
type calls struct {
	names []string
}

func (c *calls) hit(name string) { c.names = append(c.names, name) }

func (c *calls) count(name string) int {
	n := 0
	for _, got := range c.names {
		if got == name {
			n++
		}
	}
	return n
}

func testEngine(t *testing.T, preview bool) (*Engine, *calls, *fakePAM, *fakeX) {
	t.Helper()
	cfg := config.Default()
	cfg.CachePath = filepath.Join(t.TempDir(), "cache")
	cfg.Log.ClientPath = filepath.Join(t.TempDir(), "client.log")
	cfg.Log.XorgPath = filepath.Join(t.TempDir(), "xorg.log")

	descriptors := []session.Descriptor{
		{Name: "tty", Kind: session.KindTTY},
		{Name: "bspwm", Kind: session.KindX11, Exec: "/usr/share/xsessions/bspwm"},
		{Name: "sway", Kind: session.KindWayland, Exec: "/usr/share/wayland-sessions/sway"},
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(cfg, log, descriptors, preview)

	rec := &calls{}
	pam := &fakePAM{
		user: auth.Passwd{
			UID: 1000, GID: 1000, Username: "alice",
			Home: t.TempDir(), Shell: "/bin/bash", Groups: []uint32{1000},
		},
	}
	x := &fakeX{}

	e.hooks = hooks{
		openPAM: func(auth.Config, *auth.Credentials) (pamSession, error) {
			rec.hit("pam_open")
			if pam.openErr != nil {
				return nil, pam.openErr
			}
			return pam, nil
		},
		startX: func(xorg.Config) (xServer, error) {
			rec.hit("x_start")
			return x, nil
		},
		dispatch: func(cfg session.DispatchConfig) error {
			rec.hit("dispatch")
			if cfg.TTY != nil {
				rec.hit("dispatch_with_tty")
			}
			if cfg.OnStarted != nil {
				cfg.OnStarted(4242)
			}
			return nil
		},
		currentVT: func() (uint, error) { rec.hit("current_vt"); return 2, nil },
		openTTY: func(string) (*os.File, error) {
			rec.hit("open_tty")
			return os.CreateTemp(t.TempDir(), "tty")
		},
		chownTTY: func(string, int, int) error { rec.hit("chown_tty"); return nil },
		resetTTY: func(string) error { rec.hit("reset_tty"); return nil },
		writeCache: func(path string, info cache.Info) error {
			rec.hit("cache_write")
			return cache.Write(path, info)
		},
		runPower: func(string) error { rec.hit("power"); return nil },
	}
	return e, rec, pam, x
}

// drain collects engine messages until Ready or the channel closes.
func drain(t *testing.T, e *Engine) []EngineMessage {
	t.Helper()
	var out []EngineMessage
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-e.ToUI:
			if !ok {
				return out
			}
			out = append(out, msg)
			if _, ready := msg.(Ready); ready {
				return out
			}
		case <-timeout:
			t.Fatalf("engine produced no Ready; got %v", out)
		}
	}
}

func messageKinds(msgs []EngineMessage) []string {
	var out []string
	for _, m := range msgs {
		switch m.(type) {
		case Busy:
			out = append(out, "busy")
		case Ready:
			out = append(out, "ready")
		case Info:
			out = append(out, "info")
		case Error:
			out = append(out, "error")
		case SessionStarted:
			out = append(out, "started")
		case SessionEnded:
			out = append(out, "ended")
		case Prompt:
			out = append(out, "prompt")
		}
	}
	return out
}

func TestPreview_BypassesEverything(t *testing.T) {
	e, rec, _, _ := testEngine(t, true)
	go e.Run()

	if _, ok := (<-e.ToUI).(Ready); !ok {
		t.Fatal("engine did not come up Ready")
	}
	e.FromUI <- Attempt{Username: "alice", Secret: []byte("x"), SessionName: "bspwm"}
	msgs := drain(t, e)

	var ended *SessionEnded
	for _, m := range msgs {
		if se, ok := m.(SessionEnded); ok {
			ended = &se
		}
	}
	if ended == nil || ended.ExitStatus != 0 {
		t.Fatalf("messages = %v, want SessionEnded{0}", messageKinds(msgs))
	}
	if len(rec.names) != 0 {
		t.Errorf("preview attempt touched %v; must bypass PAM/VT/UTMPX/X entirely", rec.names)
	}
	close(e.FromUI)
}

func TestAttempt_WaylandSuccess(t *testing.T) {
	e, rec, pam, x := testEngine(t, false)
	before := os.Environ()
	go e.Run()
	<-e.ToUI // Ready

	e.FromUI <- Attempt{Username: "alice", Secret: []byte("pw"), SessionName: "sway"}
	msgs := drain(t, e)

	kinds := messageKinds(msgs)
	want := []string{"busy", "started", "ended", "ready"}
	if len(kinds) != len(want) {
		t.Fatalf("messages = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("messages = %v, want %v", kinds, want)
		}
	}

	if rec.count("x_start") != 0 {
		t.Error("wayland session spawned an X server")
	}
	if rec.count("dispatch") != 1 || rec.count("cache_write") != 1 {
		t.Errorf("calls = %v, want one dispatch and one cache write", rec.names)
	}
	if rec.count("dispatch_with_tty") != 1 {
		t.Error("dispatch got a nil TTY; the child needs the device as its controlling terminal")
	}
	if pam.closed != 1 {
		t.Errorf("pam closed %d times, want exactly 1", pam.closed)
	}
	if x.stopped != 0 {
		t.Error("no X server existed but Stop ran")
	}
	if rec.count("reset_tty") != 1 {
		t.Errorf("calls = %v, tty must be reset after the session", rec.names)
	}

	// The engine's environment mutations must be fully rolled back.
	after := os.Environ()
	if len(after) != len(before) {
		t.Errorf("environment leaked: %d vars before, %d after", len(before), len(after))
	}

	if got := cache.Read(e.cfg.CachePath); got.LastUsername != "alice" || got.LastSession != "sway" {
		t.Errorf("cache = %+v, want alice/sway", got)
	}
	close(e.FromUI)
}

func TestAttempt_X11ServerStartedAndStopped(t *testing.T) {
	e, rec, pam, x := testEngine(t, false)
	go e.Run()
	<-e.ToUI

	e.FromUI <- Attempt{Username: "alice", Secret: []byte("pw"), SessionName: "bspwm"}
	drain(t, e)

	if rec.count("x_start") != 1 {
		t.Fatalf("calls = %v, want one X start", rec.names)
	}
	if x.stopped != 1 {
		t.Errorf("X stopped %d times, want exactly 1", x.stopped)
	}
	if pam.closed != 1 {
		t.Errorf("pam closed %d times, want exactly 1", pam.closed)
	}
	close(e.FromUI)
}

func TestAttempt_BadPassword(t *testing.T) {
	e, rec, _, _ := testEngine(t, false)
	e.hooks.openPAM = func(auth.Config, *auth.Credentials) (pamSession, error) {
		rec.hit("pam_open")
		return nil, auth.ErrAuthFailed
	}
	go e.Run()
	<-e.ToUI

	e.FromUI <- Attempt{Username: "alice", Secret: []byte("wrong"), SessionName: "sway"}
	msgs := drain(t, e)

	var gotErr *Error
	for _, m := range msgs {
		if em, ok := m.(Error); ok {
			gotErr = &em
		}
	}
	if gotErr == nil || gotErr.Text != "Authentication failed" {
		t.Fatalf("messages = %v, want the auth-failed category text", messageKinds(msgs))
	}
	if rec.count("dispatch") != 0 || rec.count("cache_write") != 0 || rec.count("chown_tty") != 0 {
		t.Errorf("calls = %v, failed auth must not dispatch, cache, or touch the tty", rec.names)
	}
	close(e.FromUI)
}

func TestAttempt_XorgTimeoutCleansUp(t *testing.T) {
	e, rec, pam, _ := testEngine(t, false)
	e.hooks.startX = func(xorg.Config) (xServer, error) {
		rec.hit("x_start")
		return nil, xorg.ErrStartTimeout
	}
	go e.Run()
	<-e.ToUI

	e.FromUI <- Attempt{Username: "alice", Secret: []byte("pw"), SessionName: "bspwm"}
	msgs := drain(t, e)

	var gotErr *Error
	for _, m := range msgs {
		if em, ok := m.(Error); ok {
			gotErr = &em
		}
	}
	if gotErr == nil || gotErr.Text != "Could not start X" {
		t.Fatalf("messages = %v, want the X category text", messageKinds(msgs))
	}
	if rec.count("dispatch") != 0 {
		t.Error("session dispatched even though X never came up")
	}
	if pam.closed != 1 {
		t.Errorf("pam closed %d times, PAM must be unwound after an X failure", pam.closed)
	}
	for _, m := range msgs {
		if _, ok := m.(SessionStarted); ok {
			t.Error("SessionStarted sent for a session that never started")
		}
	}
	close(e.FromUI)
}

func TestAttempt_SessionCrashPropagatesStatus(t *testing.T) {
	e, _, pam, x := testEngine(t, false)
	e.hooks.dispatch = func(cfg session.DispatchConfig) error {
		if cfg.OnStarted != nil {
			cfg.OnStarted(99)
		}
		return &session.CrashError{Status: 42}
	}
	go e.Run()
	<-e.ToUI

	e.FromUI <- Attempt{Username: "alice", Secret: []byte("pw"), SessionName: "bspwm"}
	msgs := drain(t, e)

	var ended *SessionEnded
	var gotErr *Error
	for _, m := range msgs {
		switch v := m.(type) {
		case SessionEnded:
			ended = &v
		case Error:
			gotErr = &v
		}
	}
	if ended == nil || ended.ExitStatus != 42 {
		t.Fatalf("messages = %v, want SessionEnded{42}", messageKinds(msgs))
	}
	if gotErr == nil || gotErr.Text != "Session exited with error" {
		t.Errorf("messages = %v, want the crash category text", messageKinds(msgs))
	}
	if x.stopped != 1 || pam.closed != 1 {
		t.Errorf("x stops=%d pam closes=%d, teardown must still run", x.stopped, pam.closed)
	}
	close(e.FromUI)
}

func TestScope_TeardownIdempotent(t *testing.T) {
	n := 0
	scope := &attemptScope{}
	scope.onCleanup(func() { n++ })
	scope.onCleanup(func() { n += 10 })

	scope.teardown()
	scope.teardown()

	if n != 11 {
		t.Errorf("cleanup effect = %d, want each step exactly once", n)
	}
}

func TestScope_ReverseOrder(t *testing.T) {
	var order []string
	scope := &attemptScope{}
	scope.onCleanup(func() { order = append(order, "first-acquired") })
	scope.onCleanup(func() { order = append(order, "last-acquired") })

	scope.teardown()

	if len(order) != 2 || order[0] != "last-acquired" {
		t.Errorf("teardown order = %v, want reverse acquisition", order)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Category
	}{
		{auth.ErrAuthFailed, CatAuthFailed},
		{auth.ErrAccountLocked, CatAccountLocked},
		{auth.ErrTimeout, CatAuthTimeout},
		{xorg.ErrStartTimeout, CatXorgStart},
		{session.ErrExecFailed, CatSessionExec},
		{&session.CrashError{Status: 3}, CatSessionCrashed},
		{&auth.StepError{Step: "setcred", Err: errors.New("x")}, CatPam},
		{errors.New("anything else"), CatSystem},
	}
	for _, tt := range tests {
		if got := classify(tt.err); got.Category != tt.want {
			t.Errorf("classify(%v) = %v, want %v", tt.err, got.Category.Message(), tt.want.Message())
		}
	}
}

func TestConv_TimesOut(t *testing.T) {
	e, _, _, _ := testEngine(t, false)
	conv := &engineConv{e: e, timeout: 20 * time.Millisecond}

	go func() {
		// Drain the Prompt so send does not stall.
		<-e.ToUI
	}()
	_, err := conv.Input("Token: ", false)
	if !errors.Is(err, auth.ErrTimeout) {
		t.Fatalf("Input() error = %v, want ErrTimeout", err)
	}
}

func TestConv_DeliversReply(t *testing.T) {
	e, _, _, _ := testEngine(t, false)
	conv := &engineConv{e: e, timeout: time.Second}

	go func() {
		<-e.ToUI // Prompt
		e.FromUI <- InputResponse{Text: "123456"}
	}()
	got, err := conv.Input("Token: ", false)
	if err != nil || got != "123456" {
		t.Fatalf("Input() = %q, %v; want the UI reply", got, err)
	}
}
