// Package session discovers the sessions a user can log into and
// dispatches the chosen one as the authenticated user.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind classifies how a session program expects to be hosted.
type Kind int

const (
	KindTTY Kind = iota
	KindX11
	KindWayland
)

func (k Kind) String() string {
	switch k {
	case KindX11:
		return "x11"
	case KindWayland:
		return "wayland"
	default:
		return "tty"
	}
}

// Descriptor is one selectable session. Read-only after discovery.
type Descriptor struct {
	// Name is the script filename without extension.
	Name string

	// Kind is determined by the directory the script came from.
	Kind Kind

	// Exec is the path (or shell command for the TTY entry) handed to
	// `/bin/sh -lc`.
	Exec string
}

// Discover scans the X and Wayland session directories and prepends the
// implicit TTY entry. A missing directory contributes nothing; the TTY
// entry means the result is never empty.
func Discover(xsessions, wlsessions string) []Descriptor {
	out := []Descriptor{{Name: "tty", Kind: KindTTY}}
	out = append(out, scanDir(xsessions, KindX11)...)
	out = append(out, scanDir(wlsessions, KindWayland)...)
	return out
}

// scanDir lists the executable, non-hidden files of dir as descriptors.
func scanDir(dir string, kind Kind) []Descriptor {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []Descriptor
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Mode()&0111 == 0 {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		out = append(out, Descriptor{
			Name: name,
			Kind: kind,
			Exec: filepath.Join(dir, entry.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Find resolves a selection by name, preferring the exact kind-qualified
// form "kind/name" when two directories carry the same filename.
func Find(descriptors []Descriptor, selection string) (Descriptor, error) {
	if kindName, name, ok := strings.Cut(selection, "/"); ok {
		for _, d := range descriptors {
			if d.Kind.String() == kindName && d.Name == name {
				return d, nil
			}
		}
	}
	for _, d := range descriptors {
		if d.Name == selection {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("unknown session %q", selection)
}
