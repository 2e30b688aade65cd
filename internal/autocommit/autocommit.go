// Package autocommit implements the autocommit driver (spec §4.E): it
// orchestrates internal/snapshot's delta engine and tree builder, resolves
// the two shadow-commit parents, writes the commit, and advances the
// watermark. It is grounded on the teacher's checkpoint.GitStore.WriteTemporary
// (shadow-branch-as-ref, createCommit), adapted to agt's two-parent
// (shadow-head, user-branch-head) commit shape instead of the teacher's
// single-parent shadow chain. An empty delta creates no commit; a non-empty
// delta always creates one, even when the resulting tree equals parent1's.
package autocommit

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/entireio/agt/internal/gitutil"
	"github.com/entireio/agt/internal/session"
	"github.com/entireio/agt/internal/snapshot"
)

// ErrNoShadowBranch is returned when the session's shadow branch does not exist (fatal per spec §4.E step 4).
var ErrNoShadowBranch = errors.New("autocommit: shadow branch does not exist")

// ErrNoUserBranch is returned when the user branch cannot be resolved (unborn/detached HEAD, spec §4.E step 8).
var ErrNoUserBranch = errors.New("autocommit: user branch head could not be resolved")

// Options configures a single autocommit invocation.
type Options struct {
	SessionID     string
	Cwd           string
	OverrideMtime *int64 // nil: use the stored watermark
	DryRun        bool
	GitBinary     string
	AgentEmail    string
}

// Result reports what an autocommit did.
type Result struct {
	Skipped      bool // true if there was nothing to commit
	DryRun       bool
	CommitHash   plumbing.Hash
	ChangedCount int
	DeletedCount int
	Changed      []string // sorted, only populated for dry-run reporting
	Deleted      []string // sorted, only populated for dry-run reporting
}

// Driver ties together a repository, its session store, and the identity
// used for shadow commits.
type Driver struct {
	Repo  *git.Repository
	Store *session.Store
}

// NewDriver returns a Driver over repo and store.
func NewDriver(repo *git.Repository, store *session.Store) *Driver {
	return &Driver{Repo: repo, Store: store}
}

// Run executes the autocommit state machine described in spec §4.E.
func (d *Driver) Run(opts Options) (Result, error) {
	meta, err := d.Store.Load(opts.SessionID)
	if err != nil {
		return Result{}, fmt.Errorf("loading session %s: %w", opts.SessionID, err)
	}

	meta, err = d.repairSandbox(meta, opts.Cwd)
	if err != nil {
		return Result{}, err
	}

	sessionFolder := parentDir(meta.Sandbox)

	threshold, err := d.Store.ReadWatermark(opts.SessionID)
	if err != nil {
		return Result{}, fmt.Errorf("reading watermark: %w", err)
	}
	if opts.OverrideMtime != nil {
		if *opts.OverrideMtime < 0 {
			return Result{}, fmt.Errorf("override mtime must be >= 0")
		}
		threshold = *opts.OverrideMtime
	}

	branchRefName := plumbing.NewBranchReferenceName(meta.Branch)
	parent1Ref, err := d.Repo.Reference(branchRefName, true)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrNoShadowBranch, meta.Branch)
	}
	parent1, err := d.Repo.CommitObject(parent1Ref.Hash())
	if err != nil {
		return Result{}, fmt.Errorf("loading shadow head commit: %w", err)
	}

	delta, err := snapshot.ComputeDelta(d.Repo, sessionFolder, parent1.TreeHash, threshold)
	if err != nil {
		return Result{}, fmt.Errorf("computing delta: %w", err)
	}

	if delta.Empty() {
		return Result{Skipped: true}, nil
	}

	if opts.DryRun {
		return dryRunResult(delta), nil
	}

	userBranchRef, err := d.Repo.Reference(plumbing.ReferenceName(meta.UserBranch), true)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrNoUserBranch, meta.UserBranch)
	}
	parent2, err := d.Repo.CommitObject(userBranchRef.Hash())
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrNoUserBranch, meta.UserBranch)
	}

	treeID, err := snapshot.BuildTree(d.Repo, parent1.TreeHash, delta)
	if err != nil {
		return Result{}, fmt.Errorf("building tree: %w", err)
	}

	identity := gitutil.ResolveIdentity(d.Repo, opts.GitBinary, opts.AgentEmail)
	if opts.AgentEmail != "" {
		identity.Email = opts.AgentEmail
	}
	commitHash, err := d.createCommit(treeID, []plumbing.Hash{parent1.Hash, parent2.Hash}, identity)
	if err != nil {
		return Result{}, fmt.Errorf("writing autocommit: %w", err)
	}

	newRef := plumbing.NewHashReference(branchRefName, commitHash)
	if err := d.Repo.Storer.SetReference(newRef); err != nil {
		return Result{}, fmt.Errorf("updating shadow branch ref: %w", err)
	}

	// Per spec §4.E step 11: the watermark update is non-atomic with the
	// commit. If it fails here the session lands in COMMITTED-UNSYNCED;
	// the next scan safely re-includes the same files.
	if err := d.Store.WriteWatermark(opts.SessionID, time.Now().Unix()); err != nil {
		return Result{}, fmt.Errorf("commit %s written but watermark update failed: %w", commitHash, err)
	}

	return Result{
		CommitHash:   commitHash,
		ChangedCount: len(delta.Changed),
		DeletedCount: len(delta.Deleted),
	}, nil
}

// repairSandbox implements spec §4.E step 1: if metadata.sandbox is stale
// but cwd resembles the sandbox (its parent directory is named after the
// session id), adopt cwd as the sandbox path and persist the repair.
func (d *Driver) repairSandbox(meta session.Metadata, cwd string) (session.Metadata, error) {
	if pathExists(meta.Sandbox) || cwd == "" {
		return meta, nil
	}
	resolved, err := canonicalize(cwd)
	if err != nil {
		return meta, nil //nolint:nilerr // best-effort repair; fall through to the original (missing) sandbox
	}
	if filepath.Base(filepath.Dir(resolved)) != meta.SessionID {
		return meta, nil
	}
	meta.Sandbox = resolved
	if err := d.Store.Save(meta); err != nil {
		return session.Metadata{}, fmt.Errorf("repairing sandbox path in metadata: %w", err)
	}
	return meta, nil
}

func (d *Driver) createCommit(treeID plumbing.Hash, parents []plumbing.Hash, identity gitutil.Identity) (plumbing.Hash, error) {
	now := time.Now()
	sig := object.Signature{Name: identity.Name, Email: identity.Email, When: now}

	commit := &object.Commit{
		TreeHash:     treeID,
		ParentHashes: parents,
		Author:       sig,
		Committer:    sig,
		Message:      "agt autocommit",
	}

	obj := d.Repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encoding commit: %w", err)
	}
	hash, err := d.Repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("storing commit: %w", err)
	}
	return hash, nil
}

func dryRunResult(delta snapshot.Delta) Result {
	changed := make([]string, 0, len(delta.Changed))
	for p := range delta.Changed {
		changed = append(changed, p)
	}
	sort.Strings(changed)

	deleted := make([]string, 0, len(delta.Deleted))
	for p := range delta.Deleted {
		deleted = append(deleted, p)
	}
	sort.Strings(deleted)

	return Result{
		DryRun:       true,
		ChangedCount: len(changed),
		DeletedCount: len(deleted),
		Changed:      changed,
		Deleted:      deleted,
	}
}
