package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/entireio/agt/internal/paths"
)

func newFixture(t *testing.T) (*Manager, *paths.Layout) {
	t.Helper()
	root := t.TempDir()
	layout := paths.NewLayout(root, "proj.git")

	repo, err := git.PlainInit(layout.BareDir, true)
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
		Author:    object.Signature{Name: "Test", Email: "t@t", When: time.Now()},
		Committer: object.Signature{Name: "Test", Email: "t@t", When: time.Now()},
		Message:   "initial",
		TreeHash:  treeHash,
	}
	commitObj := repo.Storer.NewEncodedObject()
	commitObj.SetType(plumbing.CommitObject)
	require.NoError(t, commit.Encode(commitObj))
	commitHash, err := repo.Storer.SetEncodedObject(commitObj)
	require.NoError(t, err)

	mainRef := plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), commitHash)
	require.NoError(t, repo.Storer.SetReference(mainRef))
	require.NoError(t, repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))))

	mgr := NewManager(repo, layout, "agtsessions/")
	return mgr, layout
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

func TestCreateThenRemove(t *testing.T) {
	mgr, layout := newFixture(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	meta, err := mgr.Create(NewOptions{SessionID: "s1"}, now)
	require.NoError(t, err)
	require.Equal(t, "s1", meta.SessionID)
	require.Equal(t, "agtsessions/s1", meta.Branch)
	require.Equal(t, "refs/heads/main", meta.UserBranch)

	refName := plumbing.NewBranchReferenceName("agtsessions/s1")
	_, err = mgr.Repo.Reference(refName, true)
	require.NoError(t, err)
	require.DirExists(t, layout.WorktreeAdminDir("s1"))

	sandbox, err := layout.SessionSandbox("s1")
	require.NoError(t, err)
	require.DirExists(t, sandbox)

	wm, err := mgr.Store.ReadWatermark("s1")
	require.NoError(t, err)
	require.Equal(t, int64(0), wm)

	loaded, err := mgr.Store.Load("s1")
	require.NoError(t, err)
	require.Equal(t, meta.SessionID, loaded.SessionID)

	// duplicate create fails (S3/P3)
	_, err = mgr.Create(NewOptions{SessionID: "s1"}, now)
	require.ErrorIs(t, err, ErrAlreadyExists)

	require.NoError(t, mgr.Remove("s1", true))
	_, err = mgr.Repo.Reference(refName, true)
	require.Error(t, err)
	require.NoDirExists(t, layout.WorktreeAdminDir("s1"))
	require.NoDirExists(t, sandbox)
	_, err = mgr.Store.Load("s1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemove_Idempotent(t *testing.T) {
	mgr, _ := newFixture(t)
	require.NoError(t, mgr.Remove("does-not-exist", true))
}

func TestInferSessionFromCwd(t *testing.T) {
	mgr, _ := newFixture(t)
	now := time.Now()
	meta, err := mgr.Create(NewOptions{SessionID: "s1"}, now)
	require.NoError(t, err)

	inside := filepath.Join(meta.Sandbox, "nested")
	require.NoError(t, os.MkdirAll(inside, 0o755))

	found, err := mgr.Store.InferSessionFromCwd(inside)
	require.NoError(t, err)
	require.Equal(t, "s1", found.SessionID)

	_, err = mgr.Store.InferSessionFromCwd(t.TempDir())
	require.ErrorIs(t, err, ErrNoSandboxMatch)
}

func TestList_SkipsUnparseable(t *testing.T) {
	mgr, layout := newFixture(t)
	_, err := mgr.Create(NewOptions{SessionID: "s1"}, time.Now())
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(layout.SessionsMetadataDir(), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(layout.SessionsMetadataDir(), "bogus.json"), []byte("not json"), 0o644))

	list, err := mgr.Store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "s1", list[0].SessionID)
}

func TestWatermark_RoundTrip(t *testing.T) {
	mgr, _ := newFixture(t)
	_, err := mgr.Create(NewOptions{SessionID: "s1"}, time.Now())
	require.NoError(t, err)

	require.NoError(t, mgr.Store.WriteWatermark("s1", 12345))
	v, err := mgr.Store.ReadWatermark("s1")
	require.NoError(t, err)
	require.Equal(t, int64(12345), v)
}
