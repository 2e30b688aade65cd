package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

func newBareRepo(t *testing.T) *git.Repository {
	t.Helper()
	repo, err := git.PlainInit(filepath.Join(t.TempDir(), "repo.git"), true)
	require.NoError(t, err)
	return repo
}

// baseTree builds a tree object with the given tree-path -> content map and
// returns its id.
func baseTree(t *testing.T, repo *git.Repository, files map[string]string) plumbing.Hash {
	t.Helper()
	entries := make(map[string]object.TreeEntry)
	for path, content := range files {
		hash, err := CreateBlobFromContent(repo, []byte(content))
		require.NoError(t, err)
		entries[path] = object.TreeEntry{Name: path, Mode: filemode.Regular, Hash: hash}
	}
	treeHash, err := BuildTreeFromEntries(repo, entries)
	require.NoError(t, err)
	return treeHash
}

func readTreeFile(t *testing.T, repo *git.Repository, treeHash plumbing.Hash, path string) string {
	t.Helper()
	tree, err := repo.TreeObject(treeHash)
	require.NoError(t, err)
	f, err := tree.File(path)
	require.NoError(t, err)
	content, err := f.Contents()
	require.NoError(t, err)
	return content
}

func TestComputeDelta_AddModifyDelete(t *testing.T) {
	repo := newBareRepo(t)
	base := baseTree(t, repo, map[string]string{
		"a.txt":     "a",
		"dir/b.txt": "b",
	})

	scanRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(scanRoot, "dir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scanRoot, "c.txt"), []byte("c"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(scanRoot, "dir", "b.txt"), []byte(""), 0o644))
	// a.txt intentionally absent (deleted)
	require.NoError(t, os.MkdirAll(filepath.Join(scanRoot, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scanRoot, ".git", "config"), []byte("x"), 0o644))

	delta, err := ComputeDelta(repo, scanRoot, base, 0)
	require.NoError(t, err)

	require.Contains(t, delta.Changed, "c.txt")
	require.Contains(t, delta.Changed, "dir/b.txt")
	require.NotContains(t, delta.Changed, ".git/config")
	_, deleted := delta.Deleted["a.txt"]
	require.True(t, deleted)
}

func TestComputeDelta_ThresholdIsHalfOpen(t *testing.T) {
	repo := newBareRepo(t)
	base := baseTree(t, repo, nil)

	scanRoot := t.TempDir()
	path := filepath.Join(scanRoot, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	mtime := time.Now().Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	delta, err := ComputeDelta(repo, scanRoot, base, mtime.Unix())
	require.NoError(t, err)
	require.Contains(t, delta.Changed, "f.txt")
}

func TestBuildTree_RoundTrip(t *testing.T) {
	repo := newBareRepo(t)
	base := baseTree(t, repo, map[string]string{
		"a.txt":     "a",
		"dir/b.txt": "b",
	})

	scanRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(scanRoot, "dir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scanRoot, "c.txt"), []byte("c"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(scanRoot, "dir", "b.txt"), []byte(""), 0o644))

	delta, err := ComputeDelta(repo, scanRoot, base, 0)
	require.NoError(t, err)

	newTree, err := BuildTree(repo, base, delta)
	require.NoError(t, err)

	require.Equal(t, "c", readTreeFile(t, repo, newTree, "c.txt"))
	require.Equal(t, "", readTreeFile(t, repo, newTree, "dir/b.txt"))

	tree, err := repo.TreeObject(newTree)
	require.NoError(t, err)
	_, err = tree.File("a.txt")
	require.Error(t, err, "a.txt should have been removed by the delta")
}

func TestBuildTree_ExecutableAndSymlink(t *testing.T) {
	repo := newBareRepo(t)
	base := baseTree(t, repo, nil)

	scanRoot := t.TempDir()
	execPath := filepath.Join(scanRoot, "run.sh")
	require.NoError(t, os.WriteFile(execPath, []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.Symlink("run.sh", filepath.Join(scanRoot, "link")))

	delta, err := ComputeDelta(repo, scanRoot, base, 0)
	require.NoError(t, err)

	newTree, err := BuildTree(repo, base, delta)
	require.NoError(t, err)

	tree, err := repo.TreeObject(newTree)
	require.NoError(t, err)

	entry, err := tree.FindEntry("run.sh")
	require.NoError(t, err)
	require.Equal(t, filemode.Executable, entry.Mode)

	linkEntry, err := tree.FindEntry("link")
	require.NoError(t, err)
	require.Equal(t, filemode.Symlink, linkEntry.Mode)
}

func TestDelta_Empty(t *testing.T) {
	require.True(t, Delta{}.Empty())
	require.False(t, Delta{Changed: map[string]string{"a": "b"}}.Empty())
}

func TestBuildTree_RedactsOutsideSandboxOnly(t *testing.T) {
	repo := newBareRepo(t)
	base := baseTree(t, repo, nil)

	secret := "sk-live-9f3Kz8QpR2mNv7XtLwYbGhA4cDeF6jHo"

	scanRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(scanRoot, "sandbox"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(scanRoot, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scanRoot, "sandbox", "code.txt"), []byte(secret), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(scanRoot, "config", "creds.json"), []byte(secret), 0o644))

	delta, err := ComputeDelta(repo, scanRoot, base, 0)
	require.NoError(t, err)

	newTree, err := BuildTree(repo, base, delta)
	require.NoError(t, err)

	require.Equal(t, secret, readTreeFile(t, repo, newTree, "sandbox/code.txt"))
	require.NotEqual(t, secret, readTreeFile(t, repo, newTree, "config/creds.json"))
	require.True(t, strings.Contains(readTreeFile(t, repo, newTree, "config/creds.json"), "REDACTED"))
}

func TestBuildTree_MissingChangedFileIsErrMissingFile(t *testing.T) {
	repo := newBareRepo(t)
	base := baseTree(t, repo, nil)

	delta := Delta{Changed: map[string]string{"gone.txt": filepath.Join(t.TempDir(), "gone.txt")}}
	_, err := BuildTree(repo, base, delta)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMissingFile))
}
