package cmd

import (
	"fmt"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sys/unix"

	"github.com/coastalwhite/lemurs/internal/cache"
	"github.com/coastalwhite/lemurs/internal/engine"
	"github.com/coastalwhite/lemurs/internal/session"
	"github.com/coastalwhite/lemurs/internal/ui"
)

// runProgram runs the engine goroutine and the bubbletea program, bridging
// the protocol channels. While a session child owns the terminal the
// program's terminal state is released; it is restored when the session
// ends.
func runProgram(eng *engine.Engine, descriptors []session.Descriptor, cached cache.Info) error {
	model := ui.New(eng.FromUI, descriptors, cached)
	program := tea.NewProgram(model, tea.WithAltScreen())

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run()
	}()

	// Orderly shutdown on SIGTERM/SIGINT: the engine refuses further
	// work and exits once any running session has been reaped.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT)
	defer signal.Stop(sigs)
	go func() {
		if _, ok := <-sigs; ok {
			eng.FromUI <- engine.Quit{}
			program.Quit()
		}
	}()

	// Bridge: engine messages become tea messages; terminal custody
	// follows the session lifecycle.
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		for msg := range eng.ToUI {
			switch msg.(type) {
			case engine.SessionStarted:
				program.ReleaseTerminal()
			case engine.SessionEnded:
				program.RestoreTerminal()
			}
			program.Send(ui.EngineMsg{Msg: msg})
		}
	}()

	_, uiErr := program.Run()

	// The UI sends Quit before tea.Quit; make sure the engine stops
	// even when the program died some other way, then wait for both.
	select {
	case <-engineDone:
	default:
		select {
		case eng.FromUI <- engine.Quit{}:
		default:
		}
		<-engineDone
	}
	<-bridgeDone

	if uiErr != nil {
		return fmt.Errorf("running ui: %w", uiErr)
	}
	return nil
}
