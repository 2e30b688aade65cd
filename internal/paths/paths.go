// Package paths centralizes the on-disk layout of an agt-managed repository:
// the bare object store, the primary worktree, the per-session folders, and
// the agt state subtree living inside the bare directory.
package paths

import (
	"fmt"
	"path/filepath"

	"github.com/entireio/agt/internal/validation"
)

// Layout resolves every path agt needs relative to a project root, which is
// the directory containing "<name>.git/", "main/", and "sessions/".
//
//	<root>/<name>.git/            bare object store
//	<root>/<name>.git/agt/        agt state (sessions, timestamps, logs)
//	<root>/main/                  the user's primary linked worktree
//	<root>/sessions/<id>/         per-session folder (sandbox/, config/, xdg/)
type Layout struct {
	Root    string // project root
	BareDir string // "<root>/<name>.git"
}

// NewLayout builds a Layout from a project root and bare-repo directory name
// (the basename of BareDir, conventionally "<name>.git").
func NewLayout(root, bareDirName string) *Layout {
	return &Layout{
		Root:    root,
		BareDir: filepath.Join(root, bareDirName),
	}
}

// MainWorktree returns "<root>/main".
func (l *Layout) MainWorktree() string {
	return filepath.Join(l.Root, "main")
}

// SessionsDir returns "<root>/sessions".
func (l *Layout) SessionsDir() string {
	return filepath.Join(l.Root, "sessions")
}

// SessionFolder returns "<root>/sessions/<id>", the scan root for autocommit.
func (l *Layout) SessionFolder(sessionID string) (string, error) {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(l.SessionsDir(), sessionID), nil
}

// SessionSandbox returns "<root>/sessions/<id>/sandbox", the linked worktree.
func (l *Layout) SessionSandbox(sessionID string) (string, error) {
	folder, err := l.SessionFolder(sessionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(folder, "sandbox"), nil
}

// SessionConfigDir returns "<root>/sessions/<id>/config".
func (l *Layout) SessionConfigDir(sessionID string) (string, error) {
	folder, err := l.SessionFolder(sessionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(folder, "config"), nil
}

// SessionXDGDir returns "<root>/sessions/<id>/xdg".
func (l *Layout) SessionXDGDir(sessionID string) (string, error) {
	folder, err := l.SessionFolder(sessionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(folder, "xdg"), nil
}

// AGTStateDir returns "<bare>/agt", the root of agt's own state subtree.
func (l *Layout) AGTStateDir() string {
	return filepath.Join(l.BareDir, "agt")
}

// SessionsMetadataDir returns "<bare>/agt/sessions".
func (l *Layout) SessionsMetadataDir() string {
	return filepath.Join(l.AGTStateDir(), "sessions")
}

// TimestampsDir returns "<bare>/agt/timestamps".
func (l *Layout) TimestampsDir() string {
	return filepath.Join(l.AGTStateDir(), "timestamps")
}

// LogsDir returns "<bare>/agt/logs".
func (l *Layout) LogsDir() string {
	return filepath.Join(l.AGTStateDir(), "logs")
}

// SessionMetadataPath returns "<bare>/agt/sessions/<id>.json".
func (l *Layout) SessionMetadataPath(sessionID string) (string, error) {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(l.SessionsMetadataDir(), sessionID+".json"), nil
}

// TimestampPath returns "<bare>/agt/timestamps/<id>".
func (l *Layout) TimestampPath(sessionID string) (string, error) {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(l.TimestampsDir(), sessionID), nil
}

// WorktreeAdminDir returns "<bare>/worktrees/<name>", the admin directory
// git (and our own linked-worktree primitive) uses for a linked worktree.
func (l *Layout) WorktreeAdminDir(name string) string {
	return filepath.Join(l.BareDir, "worktrees", name)
}

// String implements fmt.Stringer for debug logging.
func (l *Layout) String() string {
	return fmt.Sprintf("Layout{root=%s, bare=%s}", l.Root, l.BareDir)
}
