package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lemurs")

	want := Info{LastSession: "bspwm", LastUsername: "alice"}
	if err := Write(path, want); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if got := Read(path); got != want {
		t.Errorf("Read() = %+v, want %+v", got, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "bspwm\nalice\n" {
		t.Errorf("file content = %q, want two-line format", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0644 {
		t.Errorf("permissions = %o, want 0644", perm)
	}
}

func TestRead_Missing(t *testing.T) {
	if got := Read(filepath.Join(t.TempDir(), "absent")); got != (Info{}) {
		t.Errorf("Read() of missing file = %+v, want zero value", got)
	}
}

func TestWrite_Truncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lemurs")
	if err := os.WriteFile(path, []byte("very-long-session-name\nsomeone\nextra\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Write(path, Info{LastSession: "tty", LastUsername: "bo"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := Read(path); got != (Info{LastSession: "tty", LastUsername: "bo"}) {
		t.Errorf("Read() after rewrite = %+v", got)
	}
}
