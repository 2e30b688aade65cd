// Package restore implements the restore engine (spec §4.H): given a shadow
// commit, it resets the sandbox worktree to that commit's user-branch
// parent, purges sandbox files the shadow tree no longer claims, and
// materializes the shadow tree back onto disk. It reuses
// internal/snapshot's tree-flattening helper and a blob-materializer
// grounded on internal/worktree's checkoutTree/materializeBlob, since both
// are "write a resolved tree onto a directory" in the teacher's idiom.
package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/entireio/agt/internal/gitutil"
	"github.com/entireio/agt/internal/session"
	"github.com/entireio/agt/internal/snapshot"
	"github.com/entireio/agt/internal/treepath"
)

// indexBlobPath is the conventional tree path under which a preserved git
// index blob may be stored in a shadow tree (spec §4.H step 6).
const indexBlobPath = "_/index"

// ErrNotEnoughParents is returned when commit_spec resolves to a commit
// with fewer than two parents - it cannot be a shadow commit.
var ErrNotEnoughParents = errors.New("restore: shadow commit must have at least two parents")

// Options configures a single restore invocation.
type Options struct {
	SessionID  string
	CommitSpec string
	GitBinary  string
}

// Result reports what Restore did.
type Result struct {
	ShadowCommit plumbing.Hash
	UserParent   plumbing.Hash
}

// Engine ties together a repository and its session store.
type Engine struct {
	Repo  *git.Repository
	Store *session.Store
}

// NewEngine returns an Engine over repo and store.
func NewEngine(repo *git.Repository, store *session.Store) *Engine {
	return &Engine{Repo: repo, Store: store}
}

// Restore implements spec §4.H's nine steps.
func (e *Engine) Restore(opts Options) (Result, error) {
	meta, err := e.Store.Load(opts.SessionID)
	if err != nil {
		return Result{}, fmt.Errorf("loading session %s: %w", opts.SessionID, err)
	}

	hash, err := e.Repo.ResolveRevision(plumbing.Revision(opts.CommitSpec))
	if err != nil {
		return Result{}, fmt.Errorf("resolving commit %q: %w", opts.CommitSpec, err)
	}
	shadow, err := e.Repo.CommitObject(*hash)
	if err != nil {
		return Result{}, fmt.Errorf("loading shadow commit: %w", err)
	}
	if len(shadow.ParentHashes) < 2 {
		return Result{}, fmt.Errorf("%w: %s has %d parent(s)", ErrNotEnoughParents, shadow.Hash, len(shadow.ParentHashes))
	}
	userParent := shadow.ParentHashes[1]

	ctx, cancel := gitutil.WithRemoteTimeout(context.Background())
	defer cancel()
	if err := gitutil.ResetHard(ctx, opts.GitBinary, meta.Sandbox, userParent.String()); err != nil {
		return Result{}, fmt.Errorf("resetting sandbox to user parent: %w", err)
	}

	shadowTree, err := shadow.Tree()
	if err != nil {
		return Result{}, fmt.Errorf("loading shadow tree: %w", err)
	}
	treeEntries := make(map[string]object.TreeEntry)
	if err := snapshot.FlattenTree(e.Repo, shadowTree, "", treeEntries); err != nil {
		return Result{}, fmt.Errorf("flattening shadow tree: %w", err)
	}

	sessionFolder := filepath.Dir(meta.Sandbox)
	if err := purgeUnclaimed(sessionFolder, treeEntries); err != nil {
		return Result{}, fmt.Errorf("purging stale sandbox files: %w", err)
	}

	if err := materializeTree(e.Repo, treeEntries, sessionFolder); err != nil {
		return Result{}, fmt.Errorf("materializing shadow tree: %w", err)
	}

	if entry, ok := treeEntries[indexBlobPath]; ok {
		if err := restoreIndexBlob(e.Repo, entry, meta.Sandbox); err != nil {
			return Result{}, fmt.Errorf("restoring preserved index: %w", err)
		}
	}

	branchRef := plumbing.NewBranchReferenceName(meta.Branch)
	if err := e.Repo.Storer.SetReference(plumbing.NewHashReference(branchRef, shadow.Hash)); err != nil {
		return Result{}, fmt.Errorf("repointing shadow branch: %w", err)
	}

	if err := e.Store.WriteWatermark(opts.SessionID, time.Now().Unix()); err != nil {
		return Result{}, fmt.Errorf("resetting watermark: %w", err)
	}

	return Result{ShadowCommit: shadow.Hash, UserParent: userParent}, nil
}

// purgeUnclaimed walks root (skipping ".git" directories at any depth) and
// deletes every file whose tree path is not in treeEntries. Files that the
// step-2 hard reset checked out are not exempt: a file tracked by the user
// branch but absent from the shadow tree is deleted too.
func purgeUnclaimed(root string, treeEntries map[string]object.TreeEntry) error {
	var toDelete []string
	err := filepath.Walk(root, func(path string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walking %s: %w", path, walkErr)
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		treePath := treepath.FromFS(rel)
		if _, claimed := treeEntries[treePath]; !claimed {
			toDelete = append(toDelete, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, path := range toDelete {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return nil
}

// materializeTree writes every entry in treeEntries onto root, restoring
// symlinks and the executable bit per spec §4.H step 5.
func materializeTree(repo *git.Repository, treeEntries map[string]object.TreeEntry, root string) error {
	for treePath, entry := range treeEntries {
		if treePath == indexBlobPath {
			continue
		}
		dest := filepath.Join(root, treepath.ToFS(treePath))
		if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
			return fmt.Errorf("creating parent dir for %s: %w", treePath, err)
		}
		blob, err := repo.BlobObject(entry.Hash)
		if err != nil {
			return fmt.Errorf("resolving blob for %s: %w", treePath, err)
		}
		if err := materializeBlob(blob, dest, entry.Mode); err != nil {
			return fmt.Errorf("writing %s: %w", treePath, err)
		}
	}
	return nil
}

func materializeBlob(blob *object.Blob, dest string, mode filemode.FileMode) error {
	r, err := blob.Reader()
	if err != nil {
		return err
	}
	defer r.Close()

	if mode == filemode.Symlink {
		target, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		_ = os.Remove(dest)
		return os.Symlink(string(target), dest)
	}

	perm := fs.FileMode(0o644)
	if mode == filemode.Executable {
		perm = 0o755
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm) //nolint:gosec
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return err
	}
	return nil
}

// restoreIndexBlob copies a preserved "_/index" blob over the sandbox's
// live git index, resolved by following the sandbox's ".git" pointer file
// to its admin directory (spec §4.H step 6). Restore calls it only when the
// shadow tree has an entry at indexBlobPath.
func restoreIndexBlob(repo *git.Repository, entry object.TreeEntry, sandbox string) error {
	adminDir, err := readGitdirPointer(filepath.Join(sandbox, ".git"))
	if err != nil {
		return fmt.Errorf("resolving sandbox admin dir: %w", err)
	}
	blob, err := repo.BlobObject(entry.Hash)
	if err != nil {
		return fmt.Errorf("resolving index blob: %w", err)
	}
	r, err := blob.Reader()
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.OpenFile(filepath.Join(adminDir, "index"), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, r)
	return err
}

// readGitdirPointer parses a worktree ".git" file's "gitdir: <path>\n" line.
func readGitdirPointer(gitFile string) (string, error) {
	data, err := os.ReadFile(gitFile) //nolint:gosec // sandbox path comes from session metadata
	if err != nil {
		return "", err
	}
	const prefix = "gitdir: "
	s := string(data)
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return "", fmt.Errorf("malformed .git pointer file %s", gitFile)
	}
	path := s[len(prefix):]
	for len(path) > 0 && (path[len(path)-1] == '\n' || path[len(path)-1] == '\r') {
		path = path[:len(path)-1]
	}
	return path, nil
}
