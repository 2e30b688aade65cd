// Package testutil provides shared git fixture helpers for agt's test
// suites, ported from the teacher's cmd/entire/cli/testutil/testutil.go and
// adapted from a working-tree repo fixture to agt's bare-repo-plus-linked-
// worktree layout.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/config"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/entireio/agt/internal/paths"
)

// InitBareRepo initializes a bare git repository at gitDir with gpgsign
// disabled, mirroring the teacher's InitRepo but for a bare store - agt's
// shadow/user commits are machine-authored and must never block on an
// interactive signing prompt.
func InitBareRepo(t *testing.T, gitDir string) *git.Repository {
	t.Helper()

	repo, err := git.PlainInit(gitDir, true)
	if err != nil {
		t.Fatalf("failed to init bare repo: %v", err)
	}

	cfg, err := repo.Config()
	if err != nil {
		t.Fatalf("failed to get repo config: %v", err)
	}
	cfg.User.Name = "Test User"
	cfg.User.Email = "test@example.com"
	if cfg.Raw == nil {
		cfg.Raw = config.New()
	}
	cfg.Raw.Section("commit").SetOption("gpgsign", "false")
	if err := repo.SetConfig(cfg); err != nil {
		t.Fatalf("failed to set repo config: %v", err)
	}

	return repo
}

// WriteBlob writes content as a new blob object and returns its hash.
func WriteBlob(t *testing.T, repo *git.Repository, content string) plumbing.Hash {
	t.Helper()
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		t.Fatalf("failed to open blob writer: %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write blob: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close blob writer: %v", err)
	}
	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		t.Fatalf("failed to store blob: %v", err)
	}
	return hash
}

// CommitTree creates a flat single-level tree from files (path -> content),
// commits it with the given parents and message, and returns the commit hash.
func CommitTree(t *testing.T, repo *git.Repository, files map[string]string, parents []plumbing.Hash, message string) plumbing.Hash {
	t.Helper()

	var entries []object.TreeEntry
	for path, content := range files {
		entries = append(entries, object.TreeEntry{Name: path, Mode: 0o100644, Hash: WriteBlob(t, repo, content)})
	}
	tree := &object.Tree{Entries: entries}
	treeObj := repo.Storer.NewEncodedObject()
	treeObj.SetType(plumbing.TreeObject)
	if err := tree.Encode(treeObj); err != nil {
		t.Fatalf("failed to encode tree: %v", err)
	}
	treeHash, err := repo.Storer.SetEncodedObject(treeObj)
	if err != nil {
		t.Fatalf("failed to store tree: %v", err)
	}

	sig := object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()}
	commit := &object.Commit{Author: sig, Committer: sig, Message: message, TreeHash: treeHash, ParentHashes: parents}
	commitObj := repo.Storer.NewEncodedObject()
	commitObj.SetType(plumbing.CommitObject)
	if err := commit.Encode(commitObj); err != nil {
		t.Fatalf("failed to encode commit: %v", err)
	}
	hash, err := repo.Storer.SetEncodedObject(commitObj)
	if err != nil {
		t.Fatalf("failed to store commit: %v", err)
	}
	return hash
}

// SetBranch points refs/heads/<name> at hash.
func SetBranch(t *testing.T, repo *git.Repository, name string, hash plumbing.Hash) {
	t.Helper()
	refName := plumbing.NewBranchReferenceName(name)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(refName, hash)); err != nil {
		t.Fatalf("failed to set branch %s: %v", name, err)
	}
}

// NewProjectLayout returns an agt project layout ("<root>/<name>.git",
// "<root>/main", "<root>/sessions") rooted at a fresh t.TempDir; it creates
// none of those directories.
func NewProjectLayout(t *testing.T, bareDirName string) *paths.Layout {
	t.Helper()
	root := t.TempDir()
	return paths.NewLayout(root, bareDirName)
}

// WriteFile creates a file with the given content under dir, creating parent
// directories as needed.
func WriteFile(t *testing.T, dir, path, content string) {
	t.Helper()
	fullPath := filepath.Join(dir, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil { //nolint:gosec // test code
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}

// ReadFile reads a file under dir.
func ReadFile(t *testing.T, dir, path string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, path)) //nolint:gosec // test code
	if err != nil {
		t.Fatalf("failed to read file %s: %v", path, err)
	}
	return string(data)
}

// FileExists reports whether path exists under dir.
func FileExists(dir, path string) bool {
	_, err := os.Stat(filepath.Join(dir, path))
	return err == nil
}
