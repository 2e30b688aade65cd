package cliapp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/entireio/agt/internal/paths"
)

// discoverLayout walks upward from start looking for a project root: a
// directory containing both a "*.git" bare directory and a "sessions"
// directory, matching the root layout paths.Layout documents. This is CLI
// bookkeeping, not a spec component - the spec's components take an
// already-resolved *paths.Layout.
func discoverLayout(start string) (*paths.Layout, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", start, err)
	}

	for {
		if bareName, ok := findBareDirName(dir); ok {
			return paths.NewLayout(dir, bareName), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("no agt project found above %s (expected a <name>.git/sessions/ layout)", start)
		}
		dir = parent
	}
}

func findBareDirName(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	hasSessions := false
	var bareName string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if e.Name() == "sessions" {
			hasSessions = true
		}
		if strings.HasSuffix(e.Name(), ".git") {
			bareName = e.Name()
		}
	}
	return bareName, hasSessions && bareName != ""
}
