package auth

import (
	"bufio"
	"os"
	"os/exec"
	"strings"

	"github.com/msteinert/pam/v2"
)

// Conversation supplies PAM prompt answers from the UI side of the
// process. Implementations block until the UI replies or their deadline
// passes.
type Conversation interface {
	// Input answers an unexpected prompt (an OTP, a password change).
	// echo reports whether the reply may be shown while typed.
	Input(prompt string, echo bool) (string, error)

	// Info and ErrorMsg forward module output to the status line.
	Info(text string)
	ErrorMsg(text string)
}

// convBridge adapts the collected credentials plus a Conversation to PAM's
// prompt protocol. The first echo-off prompt is the password question and
// is answered with the stored secret; the first echo-on prompt asks for
// the login name. Anything beyond that goes to the UI.
type convBridge struct {
	conv     Conversation
	username string
	secret   string

	secretUsed   bool
	usernameUsed bool
}

func (b *convBridge) handle(style pam.Style, msg string) (string, error) {
	switch style {
	case pam.PromptEchoOff:
		if !b.secretUsed {
			b.secretUsed = true
			reply := b.secret
			b.secret = ""
			return reply, nil
		}
		return b.conv.Input(msg, false)
	case pam.PromptEchoOn:
		if !b.usernameUsed {
			b.usernameUsed = true
			return b.username, nil
		}
		return b.conv.Input(msg, true)
	case pam.ErrorMsg:
		b.conv.ErrorMsg(msg)
		return "", nil
	case pam.TextInfo:
		b.conv.Info(msg)
		return "", nil
	}
	return "", pam.ErrConv
}

// loginShell reads the user's shell from the password database. os/user
// does not expose it, so ask getent the way emptty does, falling back to a
// /etc/passwd scan and then /bin/sh.
func loginShell(username string) string {
	if out, err := exec.Command("getent", "passwd", username).Output(); err == nil {
		if shell := passwdShell(strings.TrimSuffix(string(out), "\n")); shell != "" {
			return shell
		}
	}
	if f, err := os.Open("/etc/passwd"); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, username+":") {
				if shell := passwdShell(line); shell != "" {
					return shell
				}
			}
		}
	}
	return "/bin/sh"
}

func passwdShell(line string) string {
	fields := strings.Split(line, ":")
	if len(fields) < 7 {
		return ""
	}
	return fields[6]
}
