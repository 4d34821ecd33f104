package engine

import (
	"errors"
	"fmt"

	"github.com/coastalwhite/lemurs/internal/auth"
	"github.com/coastalwhite/lemurs/internal/session"
	"github.com/coastalwhite/lemurs/internal/xorg"
)

// Category is the user-visible failure taxonomy. Internal detail stays in
// the log; the UI only ever sees Message.
type Category int

const (
	CatAuthFailed Category = iota
	CatAccountLocked
	CatAuthTimeout
	CatNoSessions
	CatXorgStart
	CatSessionExec
	CatSessionCrashed
	CatPam
	CatSystem
)

// Message is the string shown on the login screen.
func (c Category) Message() string {
	switch c {
	case CatAuthFailed:
		return "Authentication failed"
	case CatAccountLocked:
		return "Account not permitted"
	case CatAuthTimeout:
		return "Timed out"
	case CatNoSessions:
		return "No sessions configured"
	case CatXorgStart:
		return "Could not start X"
	case CatSessionExec:
		return "Could not start session"
	case CatSessionCrashed:
		return "Session exited with error"
	case CatPam:
		return "Internal authentication error"
	default:
		return "Internal error"
	}
}

// Failure pairs a category with its cause.
type Failure struct {
	Category Category
	Status   int
	Err      error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Category.Message(), f.Err)
	}
	return f.Category.Message()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// classify maps component errors onto the taxonomy.
func classify(err error) *Failure {
	var crash *session.CrashError
	var pamStep *auth.StepError

	switch {
	case errors.Is(err, auth.ErrAuthFailed):
		return &Failure{Category: CatAuthFailed, Err: err}
	case errors.Is(err, auth.ErrAccountLocked):
		return &Failure{Category: CatAccountLocked, Err: err}
	case errors.Is(err, auth.ErrTimeout):
		return &Failure{Category: CatAuthTimeout, Err: err}
	case errors.Is(err, xorg.ErrStartTimeout), errors.Is(err, xorg.ErrNoFreeDisplay):
		return &Failure{Category: CatXorgStart, Err: err}
	case errors.Is(err, session.ErrExecFailed):
		return &Failure{Category: CatSessionExec, Err: err}
	case errors.As(err, &crash):
		return &Failure{Category: CatSessionCrashed, Status: crash.Status, Err: err}
	case errors.As(err, &pamStep):
		return &Failure{Category: CatPam, Err: err}
	default:
		return &Failure{Category: CatSystem, Err: err}
	}
}
