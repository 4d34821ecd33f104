package auth

import (
	"errors"
	"fmt"

	"github.com/msteinert/pam/v2"
)

// Failure classes surfaced to the engine. The numeric PAM codes never
// reach the UI.
var (
	// ErrAuthFailed means the credentials were wrong.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrAccountLocked means acct_mgmt denied the account.
	ErrAccountLocked = errors.New("account not permitted")

	// ErrTimeout means the conversation missed its deadline.
	ErrTimeout = errors.New("authentication timed out")
)

// StepError is any other nonzero PAM return, tagged with the step that
// produced it.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pam %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func mapAuthErr(err error) error {
	if errors.Is(err, ErrTimeout) {
		return ErrTimeout
	}
	switch {
	case errors.Is(err, pam.ErrAuth),
		errors.Is(err, pam.ErrUserUnknown),
		errors.Is(err, pam.ErrMaxtries),
		errors.Is(err, pam.ErrCredInsufficient):
		return ErrAuthFailed
	case errors.Is(err, pam.ErrConv):
		// A conversation abort usually means the UI reply timed out.
		return ErrTimeout
	}
	return &StepError{Step: "authenticate", Err: err}
}

func mapAcctErr(err error) error {
	switch {
	case errors.Is(err, pam.ErrAcctExpired),
		errors.Is(err, pam.ErrPermDenied),
		errors.Is(err, pam.ErrAuthtokExpired),
		errors.Is(err, pam.ErrNewAuthtokReqd):
		return ErrAccountLocked
	}
	return &StepError{Step: "acct_mgmt", Err: err}
}
