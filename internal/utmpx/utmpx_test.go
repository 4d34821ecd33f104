package utmpx

import (
	"path/filepath"
	"testing"
	"time"
)

func testWriter(t *testing.T) *Writer {
	t.Helper()
	dir := t.TempDir()
	return &Writer{
		UtmpPath: filepath.Join(dir, "utmp"),
		WtmpPath: filepath.Join(dir, "wtmp"),
	}
}

func TestLoginLogout_Pairing(t *testing.T) {
	w := testWriter(t)

	rec, err := w.Login("tty2", 4321, "alice")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	live, err := ReadAll(w.UtmpPath)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(live) != 1 || !live[0].IsUserProcess() {
		t.Fatalf("utmp after login = %+v, want one USER_PROCESS", live)
	}
	if live[0].Line != "tty2" || live[0].ID != "tty2" || live[0].Pid != 4321 || live[0].User != "alice" {
		t.Errorf("login record = %+v, wrong fields", live[0])
	}

	if err := w.Logout(rec); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	// The same slot must be rewritten, not a new one appended.
	after, err := ReadAll(w.UtmpPath)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(after) != 1 {
		t.Fatalf("utmp has %d records after logout, want 1", len(after))
	}
	dead := after[0]
	if !dead.IsDeadProcess() {
		t.Errorf("slot type = %d, want DEAD_PROCESS", dead.Type)
	}
	if dead.Line != rec.Line || dead.ID != rec.ID || dead.Pid != rec.Pid {
		t.Errorf("dead record = %+v, line/id/pid must match login %+v", dead, rec)
	}

	// History keeps both.
	history, err := ReadAll(w.WtmpPath)
	if err != nil {
		t.Fatalf("ReadAll(wtmp) error = %v", err)
	}
	if len(history) != 2 || !history[0].IsUserProcess() || !history[1].IsDeadProcess() {
		t.Errorf("wtmp history = %+v, want USER then DEAD", history)
	}
}

func TestShortID_TrailingFour(t *testing.T) {
	tests := []struct {
		tty  string
		want string
	}{
		{"tty2", "tty2"},
		{"tty12", "ty12"},
		{"pts/0", "ts/0"},
		{"ttyv1", "tyv1"},
	}
	for _, tt := range tests {
		if got := shortID(tt.tty); got != tt.want {
			t.Errorf("shortID(%q) = %q, want %q", tt.tty, got, tt.want)
		}
	}
}

func TestLogin_ReusesLineSlot(t *testing.T) {
	w := testWriter(t)

	first, err := w.Login("tty3", 100, "alice")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := w.Logout(first); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := w.Login("tty3", 200, "bob"); err != nil {
		t.Fatalf("second Login() error = %v", err)
	}

	records, err := ReadAll(w.UtmpPath)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("utmp has %d records, want the tty3 slot reused", len(records))
	}
	if records[0].Pid != 200 || records[0].User != "bob" {
		t.Errorf("reused slot = %+v, want bob/200", records[0])
	}
}

func TestStamp_ReadsClockOncePerWrite(t *testing.T) {
	w := testWriter(t)

	calls := 0
	orig := timeNow
	t.Cleanup(func() { timeNow = orig })
	timeNow = func() time.Time {
		calls++
		return time.Unix(1700000000, 123456000)
	}

	rec, err := w.Login("tty4", 1, "alice")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("Login read the clock %d times, want 1", calls)
	}
	if err := w.Logout(rec); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("Logout read the clock %d more times, want 1", calls-1)
	}

	records, _ := ReadAll(w.UtmpPath)
	if got := records[0].Time.Unix(); got != 1700000000 {
		t.Errorf("record time = %d, want stamped value", got)
	}
}
