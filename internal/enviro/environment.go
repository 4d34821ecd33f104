// Package enviro manages the process environment across the login boundary.
//
// The engine snapshots the environment before a login attempt, mutates it
// through Environment so every original value is recorded, and restores it
// after the session ends. Restore is idempotent.
package enviro

import (
	"os"
	"sort"
)

// original remembers the pre-mutation state of one variable. A nil value
// means the variable was unset before we touched it.
type original struct {
	value *string
}

// Environment tracks mutations to the live process environment so they can
// be reversed. All methods must be called from the engine goroutine only;
// nothing else in the process may mutate the environment while an
// Environment is live.
type Environment struct {
	originals map[string]original
	restored  bool
}

// New returns an empty container whose mutations can be rolled back with
// Restore. Each variable's original value is recorded the first time it is
// mutated through the container.
func New() *Environment {
	return &Environment{originals: make(map[string]original)}
}

// Get reads a variable from the live environment.
func (e *Environment) Get(name string) (string, bool) {
	return os.LookupEnv(name)
}

// Set writes name=value into the live environment, recording the prior
// value the first time name is touched.
func (e *Environment) Set(name, value string) error {
	e.record(name)
	return os.Setenv(name, value)
}

// SetIfUnset writes name=value only when name has no value in the live
// environment. Returns true when the value was written.
func (e *Environment) SetIfUnset(name, value string) (bool, error) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return false, nil
	}
	return true, e.Set(name, value)
}

// Unset removes name from the live environment, recording the prior value
// the first time name is touched.
func (e *Environment) Unset(name string) error {
	e.record(name)
	return os.Unsetenv(name)
}

func (e *Environment) record(name string) {
	if _, seen := e.originals[name]; seen {
		return
	}
	if v, ok := os.LookupEnv(name); ok {
		value := v
		e.originals[name] = original{value: &value}
	} else {
		e.originals[name] = original{}
	}
}

// Touched reports whether name has been mutated through this container.
func (e *Environment) Touched(name string) bool {
	_, seen := e.originals[name]
	return seen
}

// Restore reinstates every recorded original value, unsetting variables
// that did not exist before. Calling Restore again is a no-op.
func (e *Environment) Restore() error {
	if e.restored {
		return nil
	}
	e.restored = true

	var firstErr error
	// Deterministic order keeps failures reproducible.
	names := make([]string, 0, len(e.originals))
	for name := range e.originals {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		orig := e.originals[name]
		var err error
		if orig.value == nil {
			err = os.Unsetenv(name)
		} else {
			err = os.Setenv(name, *orig.value)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Environ renders the live environment as a KEY=value slice for handing to
// a child process.
func Environ() []string {
	return os.Environ()
}
