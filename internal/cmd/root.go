// Package cmd wires the CLI, configuration, logging, and the UI/engine
// pair together.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/coastalwhite/lemurs/internal/cache"
	"github.com/coastalwhite/lemurs/internal/config"
	"github.com/coastalwhite/lemurs/internal/engine"
	"github.com/coastalwhite/lemurs/internal/lock"
	"github.com/coastalwhite/lemurs/internal/logging"
	"github.com/coastalwhite/lemurs/internal/session"
	"github.com/coastalwhite/lemurs/internal/vt"
)

var (
	flagConfig     string
	flagVariables  string
	flagXSessions  string
	flagWlSessions string
	flagPreview    bool
	flagNoLog      bool
)

var rootCmd = &cobra.Command{
	Use:   "lemurs",
	Short: "TUI display/login manager",
	Long: `Lemurs is a terminal-based display and login manager.

It runs on a bare virtual terminal, authenticates through PAM, and hands
the terminal to the selected TTY, X11 or Wayland session. With --preview
the UI runs unprivileged with authentication stubbed out.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to the TOML configuration")
	rootCmd.PersistentFlags().StringVar(&flagVariables, "variables", "", "TOML file of $name substitutions for the configuration")
	rootCmd.Flags().StringVar(&flagXSessions, "xsessions", "", "directory of X session scripts")
	rootCmd.Flags().StringVar(&flagWlSessions, "wlsessions", "", "directory of Wayland session scripts")
	rootCmd.Flags().BoolVar(&flagPreview, "preview", false, "render the UI without touching PAM, VT or accounting")
	rootCmd.Flags().BoolVar(&flagNoLog, "no-log", false, "disable the engine log file (session and X server output are still written to their log files)")
}

// Execute runs the CLI and maps the outcome to an exit code: 0 success,
// 1 unrecoverable error, 2 misuse.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lemurs:", err)
		if isUsageError(err) {
			return 2
		}
		return 1
	}
	return 0
}

func isUsageError(err error) bool {
	// Cobra reports flag and argument problems before RunE executes;
	// everything after that point is wrapped as an internalError.
	var internal *internalError
	return !errors.As(err, &internal)
}

// internalError marks failures from inside runRoot as opposed to flag
// misuse.
type internalError struct {
	err error
}

func (e *internalError) Error() string { return e.err.Error() }

func (e *internalError) Unwrap() error { return e.err }

func runRoot(cmd *cobra.Command, args []string) error {
	configPath := flagConfig
	explicit := configPath != ""
	if !explicit {
		configPath = config.DefaultPath
	}
	cfg, err := config.Load(configPath, flagVariables, explicit)
	if err != nil {
		return &internalError{err}
	}
	if flagXSessions != "" {
		cfg.XSessionsDir = flagXSessions
	}
	if flagWlSessions != "" {
		cfg.WlSessionsDir = flagWlSessions
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return &internalError{fmt.Errorf("stdin is not a terminal")}
	}

	log := logging.New(cfg.Log.EnginePath, flagNoLog || flagPreview)
	logging.Banner(log, version)

	if !flagPreview {
		release, err := lock.Acquire(cfg.LockPath)
		if err != nil {
			return &internalError{err}
		}
		defer release()

		if err := vt.Activate(cfg.TTY); err != nil {
			// A failed switch leaves us on some VT; keep going there.
			log.Warn("vt switch failed", "tty", cfg.TTY, "err", err)
		}
	}

	descriptors := session.Discover(cfg.XSessionsDir, cfg.WlSessionsDir)
	log.Info("sessions discovered", "count", len(descriptors))

	cached := cache.Read(cfg.CachePath)
	eng := engine.New(cfg, log, descriptors, flagPreview)

	if err := runProgram(eng, descriptors, cached); err != nil {
		log.Error("ui error", "err", err)
		return &internalError{err}
	}
	return nil
}
