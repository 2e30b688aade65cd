package worktree

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

func newBareRepoWithMain(t *testing.T) (gitDir string, mainHash plumbing.Hash) {
	t.Helper()
	gitDir = filepath.Join(t.TempDir(), "repo.git")
	repo, err := git.PlainInit(gitDir, true)
	require.NoError(t, err)

	blobHash, err := writeBlob(repo, "hello\n")
	require.NoError(t, err)

	tree := &object.Tree{Entries: []object.TreeEntry{{Name: "a.txt", Mode: 0o100644, Hash: blobHash}}}
	treeObj := repo.Storer.NewEncodedObject()
	treeObj.SetType(plumbing.TreeObject)
	require.NoError(t, tree.Encode(treeObj))
	treeHash, err := repo.Storer.SetEncodedObject(treeObj)
	require.NoError(t, err)

	commit := &object.Commit{
		Author:       object.Signature{Name: "Test", Email: "t@t", When: time.Now()},
		Committer:    object.Signature{Name: "Test", Email: "t@t", When: time.Now()},
		Message:      "initial",
		TreeHash:     treeHash,
		ParentHashes: nil,
	}
	commitObj := repo.Storer.NewEncodedObject()
	commitObj.SetType(plumbing.CommitObject)
	require.NoError(t, commit.Encode(commitObj))
	commitHash, err := repo.Storer.SetEncodedObject(commitObj)
	require.NoError(t, err)

	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), commitHash)
	require.NoError(t, repo.Storer.SetReference(ref))

	return gitDir, commitHash
}

func writeBlob(repo *git.Repository, content string) (plumbing.Hash, error) {
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write([]byte(content)); err != nil {
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return repo.Storer.SetEncodedObject(obj)
}

func TestAddThenRemove(t *testing.T) {
	gitDir, _ := newBareRepoWithMain(t)
	worktreePath := filepath.Join(t.TempDir(), "sandbox")

	err := Add(gitDir, worktreePath, "s1", "refs/heads/main")
	require.NoError(t, err)

	// the five admin-dir files exist, bit-exact
	adminDir := filepath.Join(gitDir, "worktrees", "s1")
	for _, f := range []string{"gitdir", "commondir", "HEAD", "ORIG_HEAD", "index"} {
		require.FileExists(t, filepath.Join(adminDir, f))
	}
	commondir, err := os.ReadFile(filepath.Join(adminDir, "commondir"))
	require.NoError(t, err)
	require.Equal(t, "../..\n", string(commondir))

	head, err := os.ReadFile(filepath.Join(adminDir, "HEAD"))
	require.NoError(t, err)
	require.Equal(t, "ref: refs/heads/main\n", string(head))

	// the worktree .git pointer file exists
	gitFile, err := os.ReadFile(filepath.Join(worktreePath, ".git"))
	require.NoError(t, err)
	require.Contains(t, string(gitFile), "gitdir: ")

	// the checked-out file is present
	content, err := os.ReadFile(filepath.Join(worktreePath, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(content))

	// adding again with the same name fails (S3)
	err = Add(gitDir, worktreePath, "s1", "refs/heads/main")
	require.Error(t, err)

	require.NoError(t, Remove(gitDir, worktreePath, "s1"))
	require.NoDirExists(t, adminDir)
	require.NoDirExists(t, worktreePath)
}

func TestRemove_Idempotent(t *testing.T) {
	gitDir, _ := newBareRepoWithMain(t)
	worktreePath := filepath.Join(t.TempDir(), "sandbox")
	require.NoError(t, Remove(gitDir, worktreePath, "does-not-exist"))
}

func TestAdd_RejectsInsideGitDir(t *testing.T) {
	gitDir, _ := newBareRepoWithMain(t)
	err := Add(gitDir, filepath.Join(gitDir, "inner"), "s1", "refs/heads/main")
	require.ErrorIs(t, err, ErrInsideGitDir)
}

func TestAdd_RejectsEmptyName(t *testing.T) {
	gitDir, _ := newBareRepoWithMain(t)
	err := Add(gitDir, filepath.Join(t.TempDir(), "sandbox"), "", "refs/heads/main")
	require.ErrorIs(t, err, ErrNameEmpty)
}

func TestAdd_RejectsNonEmptyWorktreeDir(t *testing.T) {
	gitDir, _ := newBareRepoWithMain(t)
	worktreePath := filepath.Join(t.TempDir(), "sandbox")
	require.NoError(t, os.MkdirAll(worktreePath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(worktreePath, "stray"), []byte("x"), 0o644))

	err := Add(gitDir, worktreePath, "s1", "refs/heads/main")
	require.ErrorIs(t, err, ErrNotEmpty)
}
