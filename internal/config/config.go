// Package config loads the lemurs TOML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is the config file consulted when --config is not given.
const DefaultPath = "/etc/lemurs/config.toml"

// Config is the decoded configuration with defaults applied.
type Config struct {
	// TTY is the virtual terminal lemurs runs on.
	TTY uint `toml:"tty"`

	// PamService names the /etc/pam.d stack.
	PamService string `toml:"pam_service"`

	// Path is the PATH exported into sessions.
	Path string `toml:"path"`

	// XSessionsDir and WlSessionsDir hold the session scripts.
	XSessionsDir  string `toml:"xsessions_path"`
	WlSessionsDir string `toml:"wlsessions_path"`

	// CachePath stores the last username and session.
	CachePath string `toml:"cache_path"`

	// LockPath is the single-instance lock file.
	LockPath string `toml:"lock_path"`

	// ShutdownCmd and RebootCmd run for the power menu actions.
	ShutdownCmd string `toml:"shutdown_cmd"`
	RebootCmd   string `toml:"reboot_cmd"`

	// AuthTimeoutSecs bounds UI replies to PAM prompts.
	AuthTimeoutSecs uint `toml:"auth_timeout_secs"`

	Log Log `toml:"log"`
	X11 X11 `toml:"x11"`
}

// Log configures the file sinks.
type Log struct {
	EnginePath string `toml:"engine_path"`
	ClientPath string `toml:"client_path"`
	XorgPath   string `toml:"xorg_path"`
}

// X11 configures the X server launch.
type X11 struct {
	XorgBin     string `toml:"xorg_bin"`
	XauthBin    string `toml:"xauth_bin"`
	TimeoutSecs uint   `toml:"timeout_secs"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		TTY:             2,
		PamService:      "lemurs",
		Path:            "/usr/local/sbin:/usr/local/bin:/usr/bin",
		XSessionsDir:    "/etc/lemurs/wms",
		WlSessionsDir:   "/etc/lemurs/wayland",
		CachePath:       "/var/cache/lemurs",
		LockPath:        "/run/lemurs.lock",
		ShutdownCmd:     "systemctl poweroff -i",
		RebootCmd:       "systemctl reboot -i",
		AuthTimeoutSecs: 60,
		Log: Log{
			EnginePath: "/var/log/lemurs.log",
			ClientPath: "/var/log/lemurs.client.log",
			XorgPath:   "/var/log/lemurs.xorg.log",
		},
		X11: X11{
			XorgBin:     "/usr/bin/X",
			XauthBin:    "/usr/bin/xauth",
			TimeoutSecs: 10,
		},
	}
}

// Load reads path over the defaults. A missing file at the default path is
// fine; a missing explicit path is an error. variablesPath, when set,
// names a TOML file of name = "value" pairs substituted for $name
// references in the config text before decoding.
func Load(path, variablesPath string, explicit bool) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if variablesPath != "" {
		vars, err := loadVariables(variablesPath)
		if err != nil {
			return nil, err
		}
		raw = substitute(raw, vars)
	}

	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// AuthTimeout is AuthTimeoutSecs as a duration.
func (c *Config) AuthTimeout() time.Duration {
	return time.Duration(c.AuthTimeoutSecs) * time.Second
}

// XorgTimeout is X11.TimeoutSecs as a duration.
func (c *Config) XorgTimeout() time.Duration {
	return time.Duration(c.X11.TimeoutSecs) * time.Second
}
