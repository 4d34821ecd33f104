// Package auth drives the PAM conversation and session state machine for a
// login attempt.
//
// The sequence is start, authenticate, acct_mgmt, setcred(ESTABLISH),
// open_session; teardown runs in strict reverse order and always reaches
// pam_end, whichever step failed.
package auth

import (
	"errors"
	"fmt"
	"os/user"
	"strconv"

	"github.com/msteinert/pam/v2"
)

// transaction is the slice of pam.Transaction the driver uses. Narrowed to
// an interface so the state machine can be tested against a fake that
// counts calls.
type transaction interface {
	Authenticate(pam.Flags) error
	AcctMgmt(pam.Flags) error
	SetCred(pam.Flags) error
	OpenSession(pam.Flags) error
	CloseSession(pam.Flags) error
	SetItem(pam.Item, string) error
	GetItem(pam.Item) (string, error)
	GetEnvList() (map[string]string, error)
	End() error
}

// startFunc is replaced in tests to inject a fake transaction.
var startFunc = func(service, username string, handler func(pam.Style, string) (string, error)) (transaction, error) {
	return pam.StartFunc(service, username, handler)
}

// lookupUser is replaced in tests.
var lookupUser = resolvePasswd

// Credentials is the transient username/secret pair collected by the UI.
// Wipe must be called as soon as PAM has consumed it.
type Credentials struct {
	Username string
	Secret   []byte
}

// Wipe zeroes the secret in place.
func (c *Credentials) Wipe() {
	for i := range c.Secret {
		c.Secret[i] = 0
	}
	c.Secret = c.Secret[:0]
}

// Passwd is the resolved system identity of the authenticated user.
type Passwd struct {
	UID      int
	GID      int
	Username string
	Home     string
	Shell    string
	Gecos    string
	Groups   []uint32
}

// Config for one authentication attempt.
type Config struct {
	Service string
	TTY     string
	Conv    Conversation
}

// Session is an open PAM session. The handle stays live until Close; Close
// must run on every exit path.
type Session struct {
	tx     transaction
	user   Passwd
	creds  bool
	opened bool
	ended  bool
}

// Open runs the forward half of the state machine. On any failure the
// partial state is unwound (including pam_end) before the error is
// returned.
func Open(cfg Config, creds *Credentials) (*Session, error) {
	bridge := &convBridge{conv: cfg.Conv, secret: string(creds.Secret), username: creds.Username}
	tx, err := startFunc(cfg.Service, creds.Username, bridge.handle)
	creds.Wipe()
	if err != nil {
		return nil, &StepError{Step: "start", Err: err}
	}

	s := &Session{tx: tx}
	if cfg.TTY != "" {
		if err := tx.SetItem(pam.Tty, cfg.TTY); err != nil {
			s.close()
			return nil, &StepError{Step: "set_item", Err: err}
		}
	}

	if err := tx.Authenticate(pam.Silent); err != nil {
		s.close()
		return nil, mapAuthErr(err)
	}
	if err := tx.AcctMgmt(pam.Silent); err != nil {
		s.close()
		return nil, mapAcctErr(err)
	}
	if err := tx.SetCred(pam.Silent | pam.EstablishCred); err != nil {
		s.close()
		return nil, &StepError{Step: "setcred", Err: err}
	}
	s.creds = true
	if err := tx.OpenSession(pam.Silent); err != nil {
		s.close()
		return nil, &StepError{Step: "open_session", Err: err}
	}
	s.opened = true

	username := creds.Username
	if pamUser, err := tx.GetItem(pam.User); err == nil && pamUser != "" {
		username = pamUser
	}
	passwd, err := lookupUser(username)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("resolving %q: %w", username, err)
	}
	s.user = *passwd
	return s, nil
}

// User returns the resolved passwd entry.
func (s *Session) User() Passwd {
	return s.user
}

// Environ returns the variables PAM modules exported into the transaction.
func (s *Session) Environ() map[string]string {
	env, err := s.tx.GetEnvList()
	if err != nil {
		return nil
	}
	return env
}

// Close unwinds the session: close_session, setcred(DELETE), end. Safe to
// call more than once; later calls are no-ops. Step failures are collected
// but never stop the teardown.
func (s *Session) Close() error {
	return s.close()
}

func (s *Session) close() error {
	if s.ended {
		return nil
	}
	s.ended = true

	var errs []error
	if s.opened {
		s.opened = false
		if err := s.tx.CloseSession(pam.Silent); err != nil {
			errs = append(errs, &StepError{Step: "close_session", Err: err})
		}
	}
	if s.creds {
		s.creds = false
		if err := s.tx.SetCred(pam.Silent | pam.DeleteCred); err != nil {
			errs = append(errs, &StepError{Step: "setcred_delete", Err: err})
		}
	}
	if err := s.tx.End(); err != nil {
		errs = append(errs, &StepError{Step: "end", Err: err})
	}
	return errors.Join(errs...)
}

// resolvePasswd builds the Passwd entry from the system user database.
func resolvePasswd(username string) (*Passwd, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("gid %q: %w", u.Gid, err)
	}

	groups := []uint32{uint32(gid)}
	if ids, err := u.GroupIds(); err == nil {
		groups = groups[:0]
		for _, id := range ids {
			if g, err := strconv.ParseUint(id, 10, 32); err == nil {
				groups = append(groups, uint32(g))
			}
		}
	}

	return &Passwd{
		UID:      uid,
		GID:      gid,
		Username: u.Username,
		Home:     u.HomeDir,
		Shell:    loginShell(u.Username),
		Gecos:    u.Name,
		Groups:   groups,
	}, nil
}
