// Package lock guards against two lemurs instances fighting over one
// terminal with an advisory file lock.
package lock

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrHeld means another lemurs instance owns the lock.
var ErrHeld = errors.New("another instance is already running")

// Acquire takes the single-instance lock. The returned release function
// unlocks and must be called on shutdown; the lock also dies with the
// process, so a crashed instance never wedges the next one.
func Acquire(path string) (func(), error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring %s: %w", path, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return func() { fl.Unlock() }, nil
}
