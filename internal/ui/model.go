// Package ui renders the login screen and translates key input into
// engine protocol messages. It owns the terminal except while a session
// runs.
package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/coastalwhite/lemurs/internal/cache"
	"github.com/coastalwhite/lemurs/internal/engine"
	"github.com/coastalwhite/lemurs/internal/session"
	"github.com/coastalwhite/lemurs/internal/style"
)

// maxFailures clears the form after this many consecutive rejections.
const maxFailures = 3

// EngineMsg wraps an engine protocol message for the bubbletea loop. The
// bridge goroutine in cmd feeds these through Program.Send.
type EngineMsg struct {
	Msg engine.EngineMessage
}

type focusArea int

const (
	focusSession focusArea = iota
	focusUsername
	focusPassword
	focusPrompt
)

type statusKind int

const (
	statusNone statusKind = iota
	statusInfo
	statusError
)

var titleCaser = cases.Title(language.English)

// Model is the bubbletea model for the login screen.
type Model struct {
	toEngine chan<- engine.UIMessage

	sessions   []session.Descriptor
	sessionIdx int

	username textinput.Model
	password textinput.Model

	// prompt is the extra input PAM conversations may request.
	prompt       textinput.Model
	promptText   string
	promptActive bool

	focus      focusArea
	busy       bool
	inSession  bool
	status     string
	statusKind statusKind
	failures   int

	width  int
	height int
}

// New builds the model, pre-filled from the info cache.
func New(toEngine chan<- engine.UIMessage, sessions []session.Descriptor, cached cache.Info) Model {
	username := textinput.New()
	username.Placeholder = "username"
	username.CharLimit = 64
	username.SetValue(cached.LastUsername)

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '*'
	password.CharLimit = 128

	prompt := textinput.New()
	prompt.CharLimit = 128

	m := Model{
		toEngine: toEngine,
		sessions: sessions,
		username: username,
		password: password,
		prompt:   prompt,
		focus:    focusUsername,
	}
	if cached.LastSession != "" {
		for i, d := range sessions {
			if d.Name == cached.LastSession {
				m.sessionIdx = i
				break
			}
		}
	}
	if cached.LastUsername != "" {
		m.focus = focusPassword
	}
	m.applyFocus()
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case EngineMsg:
		return m.updateEngine(msg.Msg)
	case tea.KeyMsg:
		return m.updateKey(msg)
	}
	return m.updateInputs(msg)
}

func (m Model) updateEngine(msg engine.EngineMessage) (tea.Model, tea.Cmd) {
	switch em := msg.(type) {
	case engine.Busy:
		m.busy = true
		m.setStatus(statusInfo, "Authenticating...")
	case engine.Ready:
		m.busy = false
		if m.statusKind == statusInfo {
			m.setStatus(statusNone, "")
		}
	case engine.Info:
		m.setStatus(statusInfo, em.Text)
	case engine.Error:
		m.busy = false
		m.setStatus(statusError, em.Text)
		m.password.SetValue("")
		m.failures++
		if m.failures >= maxFailures {
			m.failures = 0
			m.username.SetValue("")
			m.setStatus(statusError, "Too many failed attempts")
			m.focus = focusUsername
			m.applyFocus()
		}
	case engine.Prompt:
		m.promptActive = true
		m.promptText = em.Text
		m.prompt.SetValue("")
		if em.Echo {
			m.prompt.EchoMode = textinput.EchoNormal
		} else {
			m.prompt.EchoMode = textinput.EchoPassword
			m.prompt.EchoCharacter = '*'
		}
		m.focus = focusPrompt
		m.applyFocus()
	case engine.SessionStarted:
		m.inSession = true
		m.failures = 0
		m.setStatus(statusNone, "")
	case engine.SessionEnded:
		m.inSession = false
		m.busy = false
		m.password.SetValue("")
	}
	return m, nil
}

// sendToEngine wraps a channel send in a tea.Cmd so Update never blocks.
// Commands run on their own goroutines; a full channel parks the command,
// not the event loop.
func (m Model) sendToEngine(msg engine.UIMessage) tea.Cmd {
	ch := m.toEngine
	return func() tea.Msg {
		ch <- msg
		return nil
	}
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		ch := m.toEngine
		return m, func() tea.Msg {
			ch <- engine.Quit{}
			return tea.QuitMsg{}
		}
	case "f1":
		return m, m.sendToEngine(engine.Shutdown{})
	case "f2":
		return m, m.sendToEngine(engine.Reboot{})
	}

	if m.busy && !m.promptActive {
		return m, nil
	}

	switch msg.String() {
	case "tab", "down":
		m.cycleFocus(1)
		return m, nil
	case "shift+tab", "up":
		m.cycleFocus(-1)
		return m, nil
	case "left":
		if m.focus == focusSession {
			m.moveSession(-1)
			return m, nil
		}
	case "right":
		if m.focus == focusSession {
			m.moveSession(1)
			return m, nil
		}
	case "enter":
		return m.submit()
	}
	return m.updateInputs(msg)
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.promptActive {
		m.promptActive = false
		reply := m.prompt.Value()
		m.prompt.SetValue("")
		m.focus = focusPassword
		m.applyFocus()
		return m, m.sendToEngine(engine.InputResponse{Text: reply})
	}
	if m.focus != focusPassword {
		m.cycleFocus(1)
		return m, nil
	}
	if len(m.sessions) == 0 {
		m.setStatus(statusError, "No sessions configured")
		return m, nil
	}

	selected := m.sessions[m.sessionIdx]
	attempt := engine.Attempt{
		Username:    m.username.Value(),
		Secret:      []byte(m.password.Value()),
		SessionName: selectionName(selected),
	}
	m.password.SetValue("")
	return m, m.sendToEngine(attempt)
}

// selectionName qualifies the name by kind so same-named X and Wayland
// entries stay distinct.
func selectionName(d session.Descriptor) string {
	return d.Kind.String() + "/" + d.Name
}

func (m *Model) cycleFocus(dir int) {
	order := []focusArea{focusSession, focusUsername, focusPassword}
	for i, f := range order {
		if f == m.focus {
			m.focus = order[(i+dir+len(order))%len(order)]
			m.applyFocus()
			return
		}
	}
	m.focus = focusUsername
	m.applyFocus()
}

func (m *Model) applyFocus() {
	m.username.Blur()
	m.password.Blur()
	m.prompt.Blur()
	switch m.focus {
	case focusUsername:
		m.username.Focus()
	case focusPassword:
		m.password.Focus()
	case focusPrompt:
		m.prompt.Focus()
	}
}

func (m *Model) moveSession(dir int) {
	if len(m.sessions) == 0 {
		return
	}
	m.sessionIdx = (m.sessionIdx + dir + len(m.sessions)) % len(m.sessions)
}

func (m *Model) setStatus(kind statusKind, text string) {
	m.statusKind = kind
	m.status = text
}

func (m Model) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.username, cmd = m.username.Update(msg)
	cmds = append(cmds, cmd)
	m.password, cmd = m.password.Update(msg)
	cmds = append(cmds, cmd)
	m.prompt, cmd = m.prompt.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.inSession {
		// The session child owns the terminal.
		return ""
	}

	var b strings.Builder
	b.WriteString(style.Title.Render("Lemurs"))
	b.WriteString("\n\n")

	b.WriteString(m.sessionLine())
	b.WriteString("\n\n")

	b.WriteString(style.Label.Render("Login    "))
	b.WriteString(m.username.View())
	b.WriteString("\n")
	b.WriteString(style.Label.Render("Password "))
	b.WriteString(m.password.View())

	if m.promptActive {
		b.WriteString("\n\n")
		b.WriteString(style.Label.Render(m.promptText + " "))
		b.WriteString(m.prompt.View())
	}

	b.WriteString("\n\n")
	b.WriteString(m.statusLine())

	box := style.Box.Render(b.String())
	hints := style.KeyHint.Render("F1 shutdown  F2 reboot  tab next field  enter login")
	screen := box + "\n" + hints

	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, screen)
	}
	return screen
}

func (m Model) sessionLine() string {
	if len(m.sessions) == 0 {
		return style.ErrorText.Render("No sessions configured")
	}
	d := m.sessions[m.sessionIdx]
	name := titleCaser.String(d.Name)
	label := name + " (" + d.Kind.String() + ")"
	arrowStyle := style.Muted
	if m.focus == focusSession {
		arrowStyle = style.Focused
	}
	return arrowStyle.Render("< ") + style.Label.Render(label) + arrowStyle.Render(" >")
}

func (m Model) statusLine() string {
	switch m.statusKind {
	case statusInfo:
		return style.InfoText.Render(m.status)
	case statusError:
		return style.ErrorText.Render(m.status)
	}
	return " "
}
