package enviro

import (
	"fmt"
	"math/rand"
	"os"
	"testing"
)

func TestRestore_RoundTrip(t *testing.T) {
	const preset = "LEMURS_TEST_PRESET"
	const fresh = "LEMURS_TEST_FRESH"
	t.Setenv(preset, "before")
	os.Unsetenv(fresh)
	t.Cleanup(func() { os.Unsetenv(fresh) })

	env := New()
	if err := env.Set(preset, "during"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := env.Set(fresh, "during"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := env.Unset(preset); err != nil {
		t.Fatalf("Unset() error = %v", err)
	}

	if err := env.Restore(); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if got := os.Getenv(preset); got != "before" {
		t.Errorf("%s = %q after restore, want %q", preset, got, "before")
	}
	if _, ok := os.LookupEnv(fresh); ok {
		t.Errorf("%s still set after restore", fresh)
	}
}

// Random set/unset sequences must always restore to the exact prior state.
func TestRestore_RoundTripRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	names := make([]string, 6)
	for i := range names {
		names[i] = fmt.Sprintf("LEMURS_PROP_%d", i)
	}

	for round := 0; round < 50; round++ {
		before := make(map[string]*string)
		for _, name := range names {
			os.Unsetenv(name)
			if rng.Intn(2) == 0 {
				v := fmt.Sprintf("orig-%d", rng.Intn(100))
				os.Setenv(name, v)
				before[name] = &v
			} else {
				before[name] = nil
			}
		}

		env := New()
		for op := 0; op < 20; op++ {
			name := names[rng.Intn(len(names))]
			if rng.Intn(3) == 0 {
				env.Unset(name)
			} else {
				env.Set(name, fmt.Sprintf("mut-%d", op))
			}
		}

		if err := env.Restore(); err != nil {
			t.Fatalf("round %d: Restore() error = %v", round, err)
		}

		for name, want := range before {
			got, ok := os.LookupEnv(name)
			if want == nil {
				if ok {
					t.Fatalf("round %d: %s = %q, want unset", round, name, got)
				}
			} else if !ok || got != *want {
				t.Fatalf("round %d: %s = %q (set=%v), want %q", round, name, got, ok, *want)
			}
		}
	}

	for _, name := range names {
		os.Unsetenv(name)
	}
}

func TestRestore_Idempotent(t *testing.T) {
	const name = "LEMURS_TEST_IDEM"
	t.Setenv(name, "first")

	env := New()
	env.Set(name, "second")
	if err := env.Restore(); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	// A mutation between the two restores must survive the second one.
	os.Setenv(name, "third")
	if err := env.Restore(); err != nil {
		t.Fatalf("second Restore() error = %v", err)
	}
	if got := os.Getenv(name); got != "third" {
		t.Errorf("%s = %q, second Restore() was not a no-op", name, got)
	}
}

func TestSetIfUnset(t *testing.T) {
	const name = "LEMURS_TEST_COND"
	t.Setenv(name, "kept")

	env := New()
	wrote, err := env.SetIfUnset(name, "clobbered")
	if err != nil {
		t.Fatalf("SetIfUnset() error = %v", err)
	}
	if wrote {
		t.Error("SetIfUnset() wrote over an existing value")
	}
	if got := os.Getenv(name); got != "kept" {
		t.Errorf("%s = %q, want %q", name, got, "kept")
	}

	os.Unsetenv(name)
	wrote, err = env.SetIfUnset(name, "fresh")
	if err != nil {
		t.Fatalf("SetIfUnset() error = %v", err)
	}
	if !wrote {
		t.Error("SetIfUnset() skipped an unset variable")
	}
	if got := os.Getenv(name); got != "fresh" {
		t.Errorf("%s = %q, want %q", name, got, "fresh")
	}
}

func TestRecord_KeepsFirstOriginal(t *testing.T) {
	const name = "LEMURS_TEST_FIRST"
	t.Setenv(name, "original")

	env := New()
	env.Set(name, "one")
	env.Set(name, "two")
	env.Unset(name)

	if err := env.Restore(); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := os.Getenv(name); got != "original" {
		t.Errorf("%s = %q, want the first recorded original", name, got)
	}
}
