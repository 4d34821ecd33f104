package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// loadVariables decodes a flat TOML table of string values.
func loadVariables(path string) (map[string]string, error) {
	vars := make(map[string]string)
	if _, err := toml.DecodeFile(path, &vars); err != nil {
		return nil, fmt.Errorf("parsing variables: %w", err)
	}
	return vars, nil
}

// substitute replaces every $name reference in raw with its variable
// value. Longer names first, so $homedir is not clobbered by $home.
func substitute(raw []byte, vars map[string]string) []byte {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	text := string(raw)
	for _, name := range names {
		text = strings.ReplaceAll(text, "$"+name, vars[name])
	}
	return []byte(text)
}
