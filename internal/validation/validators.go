// Package validation provides input validation shared across the CLI.
// This package has no internal dependencies to avoid import cycles.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// pathSafeRegex matches alphanumeric characters, underscores, hyphens, and dots only.
var pathSafeRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidateSessionID validates that a session ID is non-empty, contains no
// path separators, and is safe to embed in a ref name and a file path.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("invalid session ID %q: contains path separators", id)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("invalid session ID %q", id)
	}
	if !pathSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid session ID %q: must be alphanumeric with underscores/hyphens/dots only", id)
	}
	return nil
}

// ValidateBranchPrefix validates a configured shadow-branch prefix: non-empty,
// no whitespace, no leading slash (it is joined directly with a session id).
func ValidateBranchPrefix(prefix string) error {
	if prefix == "" {
		return errors.New("branch prefix cannot be empty")
	}
	if strings.ContainsAny(prefix, " \t\n") {
		return fmt.Errorf("invalid branch prefix %q: contains whitespace", prefix)
	}
	if strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("invalid branch prefix %q: leading slash", prefix)
	}
	return nil
}

// ValidatePathWithin ensures candidate is equal to or a descendant of root,
// compared lexically with filepath.Rel; root and candidate must both be
// absolute or both be relative.
func ValidatePathWithin(root, candidate string) error {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return fmt.Errorf("resolving %q relative to %q: %w", candidate, root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes root %q", candidate, root)
	}
	return nil
}
