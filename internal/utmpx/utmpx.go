// Package utmpx records login sessions in the system utmp and wtmp
// databases. One USER_PROCESS record is written when a session starts; the
// matching slot is rewritten as DEAD_PROCESS when it ends.
//
// Records use the glibc utmp file layout and are written directly, so the
// package works without cgo. Access to the utmp file is serialized with an
// advisory lock next to it.
package utmpx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofrs/flock"
)

const (
	// Record types from <utmp.h>.
	typeUserProcess = 7
	typeDeadProcess = 8

	recordSize = 384
)

// timeNow is replaced in tests.
var timeNow = time.Now

// entry mirrors struct utmp from the glibc file format. 384 bytes.
type entry struct {
	Type    int16
	_       [2]byte
	Pid     int32
	Line    [32]byte
	ID      [4]byte
	User    [32]byte
	Host    [256]byte
	ExitT   int16
	ExitE   int16
	Session int32
	Sec     int32
	Usec    int32
	Addr    [4]int32
	Unused  [20]byte
}

// Writer emits records to a utmp file (rewritten in place) and a wtmp file
// (append-only history).
type Writer struct {
	UtmpPath string
	WtmpPath string
}

// NewWriter targets the system databases.
func NewWriter() *Writer {
	return &Writer{
		UtmpPath: "/run/utmp",
		WtmpPath: "/var/log/wtmp",
	}
}

// Record identifies a written USER_PROCESS slot so it can be closed.
type Record struct {
	Line string
	ID   string
	Pid  int
}

// Login writes a USER_PROCESS record for the session child. tty is the
// device name without the /dev/ prefix (e.g. "tty2"); the record id is its
// trailing four characters.
func (w *Writer) Login(tty string, pid int, username string) (*Record, error) {
	rec := &Record{Line: tty, ID: shortID(tty), Pid: pid}

	e := entry{Type: typeUserProcess, Pid: int32(pid)}
	copy(e.Line[:], tty)
	copy(e.ID[:], rec.ID)
	copy(e.User[:], username)
	stampNow(&e)

	if err := w.write(&e); err != nil {
		return nil, err
	}
	return rec, nil
}

// Logout rewrites the record's slot as DEAD_PROCESS, preserving line, id
// and pid.
func (w *Writer) Logout(rec *Record) error {
	if rec == nil {
		return errors.New("nil utmp record")
	}
	e := entry{Type: typeDeadProcess, Pid: int32(rec.Pid)}
	copy(e.Line[:], rec.Line)
	copy(e.ID[:], rec.ID)
	stampNow(&e)

	return w.write(&e)
}

// shortID derives the 4-character record id from the tty name.
func shortID(tty string) string {
	if len(tty) <= 4 {
		return tty
	}
	return tty[len(tty)-4:]
}

func stampNow(e *entry) {
	now := timeNow()
	e.Sec = int32(now.Unix())
	e.Usec = int32(now.Nanosecond() / 1000)
}

func (w *Writer) write(e *entry) error {
	if err := w.writeUtmp(e); err != nil {
		return fmt.Errorf("utmp %s: %w", w.UtmpPath, err)
	}
	if err := w.appendWtmp(e); err != nil {
		return fmt.Errorf("wtmp %s: %w", w.WtmpPath, err)
	}
	return nil
}

// writeUtmp replaces the slot with the same line, or the first free slot,
// or appends.
func (w *Writer) writeUtmp(e *entry) error {
	lock := flock.New(w.UtmpPath + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking: %w", err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(w.UtmpPath, os.O_RDWR|os.O_CREATE, 0664)
	if err != nil {
		return err
	}
	defer f.Close()

	offset, err := findSlot(f, e.Line)
	if err != nil {
		return err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(f, binary.NativeEndian, e)
}

// findSlot scans for a record on the same line or a dead/empty slot and
// returns its offset; end-of-file offset means append.
func findSlot(f *os.File, line [32]byte) (int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	var free int64 = -1
	for offset := int64(0); ; offset += recordSize {
		var cur entry
		err := binary.Read(f, binary.NativeEndian, &cur)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if free >= 0 {
				return free, nil
			}
			return offset, nil
		}
		if err != nil {
			return 0, err
		}
		if bytes.Equal(cur.Line[:], line[:]) {
			return offset, nil
		}
		if free < 0 && (cur.Type == typeDeadProcess || cur.Type == 0) {
			free = offset
		}
	}
}

func (w *Writer) appendWtmp(e *entry) error {
	f, err := os.OpenFile(w.WtmpPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0664)
	if err != nil {
		return err
	}
	defer f.Close()
	return binary.Write(f, binary.NativeEndian, e)
}

// ReadAll parses every record in a utmp-format file. Used by tests and
// diagnostics.
func ReadAll(path string) ([]Parsed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Parsed
	for {
		var e entry
		err := binary.Read(f, binary.NativeEndian, &e)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Parsed{
			Type: int(e.Type),
			Pid:  int(e.Pid),
			Line: cstr(e.Line[:]),
			ID:   cstr(e.ID[:]),
			User: cstr(e.User[:]),
			Time: time.Unix(int64(e.Sec), int64(e.Usec)*1000),
		})
	}
}

// Parsed is a decoded record.
type Parsed struct {
	Type int
	Pid  int
	Line string
	ID   string
	User string
	Time time.Time
}

// IsUserProcess reports a live login record.
func (p Parsed) IsUserProcess() bool { return p.Type == typeUserProcess }

// IsDeadProcess reports a closed login record.
func (p Parsed) IsDeadProcess() bool { return p.Type == typeDeadProcess }

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
