package restore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/require"

	"github.com/entireio/agt/internal/session"
	"github.com/entireio/agt/internal/testutil"
	"github.com/entireio/agt/internal/worktree"
)

func TestRestore_MaterializesTreeAndPurgesStale(t *testing.T) {
	layout := testutil.NewProjectLayout(t, "proj.git")
	repo := testutil.InitBareRepo(t, layout.BareDir)

	userCommit := testutil.CommitTree(t, repo, map[string]string{"a.txt": "hello"}, nil, "init")
	testutil.SetBranch(t, repo, "main", userCommit)

	shadow0 := testutil.CommitTree(t, repo, map[string]string{"a.txt": "hello"}, nil, "agt autocommit")
	shadow1 := testutil.CommitTree(t, repo, map[string]string{"b.txt": "new"}, []plumbing.Hash{shadow0, userCommit}, "agt autocommit")
	testutil.SetBranch(t, repo, "agtsessions/s1", shadow1)

	sandbox, err := layout.SessionSandbox("s1")
	require.NoError(t, err)
	require.NoError(t, worktree.Add(layout.BareDir, sandbox, "s1", "refs/heads/main"))

	// a stray file not claimed by the shadow tree, to verify purge.
	sessionFolder := filepath.Dir(sandbox)
	require.NoError(t, os.WriteFile(filepath.Join(sandbox, "stale.txt"), []byte("stale"), 0o644))

	store := session.NewStore(layout)
	require.NoError(t, store.Save(session.Metadata{
		SessionID:  "s1",
		Branch:     "agtsessions/s1",
		Sandbox:    sandbox,
		UserBranch: "refs/heads/main",
		CreatedAt:  time.Now().Unix(),
	}))
	require.NoError(t, store.WriteWatermark("s1", 0))

	engine := NewEngine(repo, store)
	res, err := engine.Restore(Options{SessionID: "s1", CommitSpec: shadow1.String(), GitBinary: "git"})
	require.NoError(t, err)
	require.Equal(t, shadow1, res.ShadowCommit)
	require.Equal(t, userCommit, res.UserParent)

	require.NoFileExists(t, filepath.Join(sandbox, "stale.txt"))
	require.Equal(t, "new", testutil.ReadFile(t, sessionFolder, "b.txt"))

	refName := plumbing.NewBranchReferenceName("agtsessions/s1")
	ref, err := repo.Reference(refName, true)
	require.NoError(t, err)
	require.Equal(t, shadow1, ref.Hash())

	wm, err := store.ReadWatermark("s1")
	require.NoError(t, err)
	require.Greater(t, wm, int64(0))
}

func TestRestore_RejectsSingleParentCommit(t *testing.T) {
	layout := testutil.NewProjectLayout(t, "proj.git")
	repo := testutil.InitBareRepo(t, layout.BareDir)

	c := testutil.CommitTree(t, repo, map[string]string{"a.txt": "hello"}, nil, "agt autocommit")
	testutil.SetBranch(t, repo, "agtsessions/s1", c)

	store := session.NewStore(layout)
	sandbox, err := layout.SessionSandbox("s1")
	require.NoError(t, err)
	require.NoError(t, store.Save(session.Metadata{SessionID: "s1", Branch: "agtsessions/s1", Sandbox: sandbox}))

	engine := NewEngine(repo, store)
	_, err = engine.Restore(Options{SessionID: "s1", CommitSpec: c.String(), GitBinary: "git"})
	require.ErrorIs(t, err, ErrNotEnoughParents)
}
