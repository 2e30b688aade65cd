package autocommit

import (
	"os"
	"path/filepath"
)

func pathExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs, nil //nolint:nilerr // best-effort: fall back to the absolute (unresolved) path
	}
	return resolved, nil
}

func parentDir(path string) string {
	return filepath.Dir(path)
}
