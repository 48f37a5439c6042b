package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath resolves a leading ~ to the home directory and then expands
// $VAR references. Paths without either are returned unchanged.
func ExpandPath(path string) string {
	switch {
	case path == "~":
		path = homeJoin("")
	case strings.HasPrefix(path, "~/"):
		path = homeJoin(path[2:])
	}
	return os.ExpandEnv(path)
}

func homeJoin(rel string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/" + rel
	}
	return filepath.Join(home, rel)
}
