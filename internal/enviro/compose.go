package enviro

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	envDisplay         = "DISPLAY"
	envXdgSessionType  = "XDG_SESSION_TYPE"
	envXdgSessionClass = "XDG_SESSION_CLASS"
	envXdgSessDesktop  = "XDG_SESSION_DESKTOP"
	envXdgCurrDesktop  = "XDG_CURRENT_DESKTOP"
	envXdgSeat         = "XDG_SEAT"
	envXdgVtnr         = "XDG_VTNR"
	envXdgRuntimeDir   = "XDG_RUNTIME_DIR"
	envXdgSessionID    = "XDG_SESSION_ID"
	envHome            = "HOME"
	envPwd             = "PWD"
	envShell           = "SHELL"
	envUser            = "USER"
	envLogname         = "LOGNAME"
	envPath            = "PATH"
	envXdgConfigHome   = "XDG_CONFIG_HOME"
	envXdgCacheHome    = "XDG_CACHE_HOME"
	envXdgDataHome     = "XDG_DATA_HOME"
	envXdgStateHome    = "XDG_STATE_HOME"
	envXdgDataDirs     = "XDG_DATA_DIRS"
	envXdgConfigDirs   = "XDG_CONFIG_DIRS"
)

// SessionType is the value placed in XDG_SESSION_TYPE.
type SessionType string

const (
	SessionTTY     SessionType = "tty"
	SessionX11     SessionType = "x11"
	SessionWayland SessionType = "wayland"
)

// User carries the passwd fields the composer needs.
type User struct {
	UID      int
	GID      int
	Username string
	Home     string
	Shell    string
}

// ComposeConfig describes one login's environment.
type ComposeConfig struct {
	User User

	// SessionName becomes XDG_SESSION_DESKTOP and XDG_CURRENT_DESKTOP.
	SessionName string

	// Type selects XDG_SESSION_TYPE.
	Type SessionType

	// VT is the virtual terminal the login runs on, for XDG_VTNR.
	VT uint

	// Path is the PATH value for the session.
	Path string
}

// Compose applies the login environment on top of env. For non-X11
// sessions DISPLAY is unset here; for X11 sessions DISPLAY and XAUTHORITY
// are left to SetDisplay once the X server is up. The "only if unset" variables consult the live environment, so
// values exported by PAM modules win.
func Compose(env *Environment, cfg ComposeConfig) error {
	u := cfg.User

	if cfg.Type != SessionX11 {
		if err := env.Unset(envDisplay); err != nil {
			return fmt.Errorf("clearing DISPLAY: %w", err)
		}
	}
	if err := env.Set(envXdgSessionType, string(cfg.Type)); err != nil {
		return fmt.Errorf("setting session type: %w", err)
	}
	if err := env.Set(envXdgSessionClass, "user"); err != nil {
		return err
	}
	if err := env.Set(envXdgSessDesktop, cfg.SessionName); err != nil {
		return err
	}
	if err := env.Set(envXdgCurrDesktop, cfg.SessionName); err != nil {
		return err
	}

	runtimeDir := "/run/user/" + strconv.Itoa(u.UID)
	conditional := []struct{ name, value string }{
		{envXdgSeat, "seat0"},
		{envXdgVtnr, strconv.FormatUint(uint64(cfg.VT), 10)},
		{envXdgRuntimeDir, runtimeDir},
		{envXdgSessionID, "1"},
	}
	for _, v := range conditional {
		if _, err := env.SetIfUnset(v.name, v.value); err != nil {
			return fmt.Errorf("setting %s: %w", v.name, err)
		}
	}

	required := []struct{ name, value string }{
		{envHome, u.Home},
		{envPwd, u.Home},
		{envShell, u.Shell},
		{envUser, u.Username},
		{envLogname, u.Username},
		{envPath, cfg.Path},
	}
	for _, v := range required {
		if err := env.Set(v.name, v.value); err != nil {
			return fmt.Errorf("setting %s: %w", v.name, err)
		}
	}

	baseDirs := []struct{ name, value string }{
		{envXdgConfigHome, filepath.Join(u.Home, ".config")},
		{envXdgCacheHome, filepath.Join(u.Home, ".cache")},
		{envXdgDataHome, filepath.Join(u.Home, ".local", "share")},
		{envXdgStateHome, filepath.Join(u.Home, ".local", "state")},
		{envXdgDataDirs, "/usr/local/share:/usr/share"},
		{envXdgConfigDirs, "/etc/xdg"},
	}
	for _, v := range baseDirs {
		if _, err := env.SetIfUnset(v.name, v.value); err != nil {
			return fmt.Errorf("setting %s: %w", v.name, err)
		}
	}

	return ensureRuntimeDir(env, u)
}

// ensureRuntimeDir creates the directory named by XDG_RUNTIME_DIR (the
// composed fallback or a preset value) when it does not exist yet, owned
// by the user with mode 0700. Best-effort: a session can
// still run without it, and pam_systemd usually owns this anyway.
func ensureRuntimeDir(env *Environment, u User) error {
	dir, ok := env.Get(envXdgRuntimeDir)
	if !ok || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}
	os.Chown(dir, u.UID, u.GID)
	return nil
}

// SetDisplay exports the X display and xauthority file after the X server
// is up.
func SetDisplay(env *Environment, displayNum int, xauthority string) error {
	if err := env.Set(envDisplay, fmt.Sprintf(":%d", displayNum)); err != nil {
		return err
	}
	return env.Set("XAUTHORITY", xauthority)
}

// RuntimeDir reads the effective XDG_RUNTIME_DIR, empty when unset.
func RuntimeDir(env *Environment) string {
	v, _ := env.Get(envXdgRuntimeDir)
	return v
}
