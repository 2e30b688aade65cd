package autocommit

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
	"github.com/entireio/agt/internal/session"
)

type fixture struct {
	repo      *git.Repository
	store     *session.Store
	layout    *paths.Layout
	sessionID string
	sandbox   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	layout := paths.NewLayout(root, "proj.git")
	repo, err := git.PlainInit(layout.BareDir, true)
	require.NoError(t, err)

	// empty initial tree for both user branch and shadow branch
	emptyTreeObj := repo.Storer.NewEncodedObject()
	emptyTreeObj.SetType(plumbing.TreeObject)
	require.NoError(t, (&object.Tree{}).Encode(emptyTreeObj))
	emptyTreeHash, err := repo.Storer.SetEncodedObject(emptyTreeObj)
	require.NoError(t, err)

	sig := object.Signature{Name: "user", Email: "u@u", When: time.Now()}
	userCommit := &object.Commit{Author: sig, Committer: sig, Message: "init", TreeHash: emptyTreeHash}
	userCommitObj := repo.Storer.NewEncodedObject()
	userCommitObj.SetType(plumbing.CommitObject)
	require.NoError(t, userCommit.Encode(userCommitObj))
	userCommitHash, err := repo.Storer.SetEncodedObject(userCommitObj)
	require.NoError(t, err)
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), userCommitHash)))

	shadowSig := object.Signature{Name: "agt", Email: "agt@local", When: time.Now()}
	shadowCommit := &object.Commit{Author: shadowSig, Committer: shadowSig, Message: "agt autocommit", TreeHash: emptyTreeHash}
	shadowCommitObj := repo.Storer.NewEncodedObject()
	shadowCommitObj.SetType(plumbing.CommitObject)
	require.NoError(t, shadowCommit.Encode(shadowCommitObj))
	shadowCommitHash, err := repo.Storer.SetEncodedObject(shadowCommitObj)
	require.NoError(t, err)
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("agtsessions/s1"), shadowCommitHash)))

	sandbox := filepath.Join(root, "sessions", "s1", "sandbox")
	require.NoError(t, os.MkdirAll(sandbox, 0o755))

	store := session.NewStore(layout)
	meta := session.Metadata{
		SessionID:  "s1",
		Branch:     "agtsessions/s1",
		Sandbox:    sandbox,
		FromCommit: userCommitHash.String(),
		UserBranch: "refs/heads/main",
		CreatedAt:  time.Now().Unix(),
	}
	require.NoError(t, store.Save(meta))
	require.NoError(t, store.WriteWatermark("s1", 0))

	return &fixture{repo: repo, store: store, layout: layout, sessionID: "s1", sandbox: sandbox}
}

func TestRun_NoModifiedFiles(t *testing.T) {
	fx := newFixture(t)
	driver := NewDriver(fx.repo, fx.store)

	res, err := driver.Run(Options{SessionID: fx.sessionID, GitBinary: "git", AgentEmail: "agt@local"})
	require.NoError(t, err)
	require.True(t, res.Skipped)
}

func TestRun_CommitsNewFile(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(fx.sandbox, "new.txt"), []byte("hi"), 0o644))

	driver := NewDriver(fx.repo, fx.store)
	res, err := driver.Run(Options{SessionID: fx.sessionID, GitBinary: "git", AgentEmail: "agt@local"})
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, 1, res.ChangedCount)

	commit, err := fx.repo.CommitObject(res.CommitHash)
	require.NoError(t, err)
	require.Len(t, commit.ParentHashes, 2)
	require.Equal(t, "agt autocommit", commit.Message)

	wm, err := fx.store.ReadWatermark(fx.sessionID)
	require.NoError(t, err)
	require.Greater(t, wm, int64(0))
}

func TestRun_DryRunDoesNotMutate(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(fx.sandbox, "new.txt"), []byte("hi"), 0o644))

	refName := plumbing.NewBranchReferenceName("agtsessions/s1")
	before, err := fx.repo.Reference(refName, true)
	require.NoError(t, err)

	driver := NewDriver(fx.repo, fx.store)
	res, err := driver.Run(Options{SessionID: fx.sessionID, DryRun: true, GitBinary: "git", AgentEmail: "agt@local"})
	require.NoError(t, err)
	require.True(t, res.DryRun)
	require.Equal(t, []string{"sandbox/new.txt"}, res.Changed)

	after, err := fx.repo.Reference(refName, true)
	require.NoError(t, err)
	require.Equal(t, before.Hash(), after.Hash())

	wm, err := fx.store.ReadWatermark(fx.sessionID)
	require.NoError(t, err)
	require.Equal(t, int64(0), wm)
}

func TestRun_MissingUserBranchIsFatal(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(fx.sandbox, "new.txt"), []byte("hi"), 0o644))

	meta, err := fx.store.Load(fx.sessionID)
	require.NoError(t, err)
	meta.UserBranch = "refs/heads/does-not-exist"
	require.NoError(t, fx.store.Save(meta))

	driver := NewDriver(fx.repo, fx.store)
	_, err = driver.Run(Options{SessionID: fx.sessionID, GitBinary: "git", AgentEmail: "agt@local"})
	require.ErrorIs(t, err, ErrNoUserBranch)
}
