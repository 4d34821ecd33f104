// Package cache persists the last accepted username and session so the
// login screen can pre-fill them.
package cache

import (
	"fmt"
	"os"
	"strings"
)

// Info is the cached state. Line 1 of the file is the session name,
// line 2 the username.
type Info struct {
	LastSession  string
	LastUsername string
}

// Read loads the cache. A missing or malformed file yields zero values;
// the login screen just starts empty.
func Read(path string) Info {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}
	}
	lines := strings.Split(string(data), "\n")
	info := Info{}
	if len(lines) > 0 {
		info.LastSession = strings.TrimSpace(lines[0])
	}
	if len(lines) > 1 {
		info.LastUsername = strings.TrimSpace(lines[1])
	}
	return info
}

// Write persists the cache, truncating any prior content. Only called
// once a session child has actually started.
func Write(path string, info Info) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s\n%s\n", info.LastSession, info.LastUsername); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}
