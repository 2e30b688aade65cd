// Package worktree implements the linked-worktree primitive (spec §4.A):
// add/remove a git linked worktree against a bare repository's object
// store, without shelling out to git. It is ported from
// original_source/crates/agt-worktree/src/main.rs, re-expressed against
// go-git's object/plumbing/index packages in place of gix/gix-worktree-state.
package worktree

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNameEmpty is returned when a worktree name is empty.
var ErrNameEmpty = errors.New("worktree name cannot be empty")

// ErrInsideGitDir is returned when the requested worktree path is inside the bare repo.
var ErrInsideGitDir = errors.New("worktree must not be inside the bare repository")

// ErrNotEmpty is returned when the destination worktree directory already has entries.
var ErrNotEmpty = errors.New("worktree path must be empty")

// Add creates a linked worktree at worktreePath, named name, checked out to
// branchRef (e.g. "refs/heads/main"), against the bare repository at
// gitDir. It writes the five admin-dir files bit-exact to spec §6, builds a
// git index from the resolved tree, and materializes every blob onto disk.
//
// No recovery is attempted on partial failure; callers unwind by calling
// Remove with the same (gitDir, worktreePath, name).
func Add(gitDir, worktreePath, name, branchRef string) error {
	if err := validateAddPaths(gitDir, worktreePath, name); err != nil {
		return err
	}

	repo, err := git.PlainOpen(gitDir)
	if err != nil {
		return fmt.Errorf("opening bare repository at %s: %w", gitDir, err)
	}

	ref, err := repo.Reference(plumbing.ReferenceName(branchRef), true)
	if err != nil {
		return fmt.Errorf("resolving branch %s: %w", branchRef, err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return fmt.Errorf("resolving commit for %s: %w", branchRef, err)
	}

	adminDir := filepath.Join(gitDir, "worktrees", name)
	if err := os.MkdirAll(adminDir, 0o750); err != nil {
		return fmt.Errorf("creating admin dir %s: %w", adminDir, err)
	}
	if err := os.MkdirAll(worktreePath, 0o750); err != nil {
		return fmt.Errorf("creating worktree dir %s: %w", worktreePath, err)
	}

	if err := writeMetadataFiles(worktreePath, adminDir, branchRef, commit.Hash); err != nil {
		return fmt.Errorf("writing worktree metadata: %w", err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("resolving tree for %s: %w", branchRef, err)
	}
	if err := checkoutTree(repo, tree, worktreePath, adminDir); err != nil {
		return fmt.Errorf("checking out tree into %s: %w", worktreePath, err)
	}

	return nil
}

// Remove deletes the linked worktree's admin dir and working directory.
// Idempotent: missing paths are not an error.
func Remove(gitDir, worktreePath, name string) error {
	if name == "" {
		return ErrNameEmpty
	}
	if isInside(gitDir, worktreePath) {
		return ErrInsideGitDir
	}

	adminDir := filepath.Join(gitDir, "worktrees", name)
	if _, err := os.Stat(adminDir); err == nil {
		if err := os.RemoveAll(adminDir); err != nil {
			return fmt.Errorf("removing admin dir %s: %w", adminDir, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("statting admin dir %s: %w", adminDir, err)
	}

	if _, err := os.Stat(worktreePath); err == nil {
		if err := os.RemoveAll(worktreePath); err != nil {
			return fmt.Errorf("removing worktree %s: %w", worktreePath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("statting worktree %s: %w", worktreePath, err)
	}

	return nil
}

func validateAddPaths(gitDir, worktreePath, name string) error {
	if name == "" {
		return ErrNameEmpty
	}
	if isInside(gitDir, worktreePath) {
		return ErrInsideGitDir
	}
	entries, err := os.ReadDir(worktreePath)
	if err == nil && len(entries) > 0 {
		return ErrNotEmpty
	}
	return nil
}

func isInside(gitDir, candidate string) bool {
	gitDirAbs, err1 := filepath.Abs(gitDir)
	candidateAbs, err2 := filepath.Abs(candidate)
	if err1 != nil || err2 != nil {
		return strings.HasPrefix(candidate, gitDir)
	}
	rel, err := filepath.Rel(gitDirAbs, candidateAbs)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// writeMetadataFiles writes the worktree's ".git" pointer file and the
// admin dir's gitdir/commondir/HEAD/ORIG_HEAD, bit-exact per spec §6.
func writeMetadataFiles(worktreePath, adminDir, branchRef string, headID plumbing.Hash) error {
	worktreeGit := filepath.Join(worktreePath, ".git")
	adminDirAbs, err := filepath.Abs(adminDir)
	if err != nil {
		return err
	}
	if err := os.WriteFile(worktreeGit, []byte(fmt.Sprintf("gitdir: %s\n", adminDirAbs)), 0o644); err != nil { //nolint:gosec
		return err
	}

	worktreeGitAbs, err := filepath.Abs(worktreeGit)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(adminDir, "gitdir"), []byte(worktreeGitAbs+"\n"), 0o644); err != nil { //nolint:gosec
		return err
	}
	if err := os.WriteFile(filepath.Join(adminDir, "commondir"), []byte("../..\n"), 0o644); err != nil { //nolint:gosec
		return err
	}
	if err := os.WriteFile(filepath.Join(adminDir, "HEAD"), []byte(fmt.Sprintf("ref: %s\n", branchRef)), 0o644); err != nil { //nolint:gosec
		return err
	}
	if err := os.WriteFile(filepath.Join(adminDir, "ORIG_HEAD"), []byte(headID.String()+"\n"), 0o644); err != nil { //nolint:gosec
		return err
	}
	return nil
}

// checkoutTree builds an index.Index from tree and materializes every blob
// onto worktreePath, then writes the index to adminDir/index.
func checkoutTree(repo *git.Repository, tree *object.Tree, worktreePath, adminDir string) error {
	idx := &index.Index{Version: 2}

	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()

	for {
		name, entry, err := walker.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("walking tree: %w", err)
		}
		if entry.Mode == filemode.Dir || entry.Mode == filemode.Submodule {
			continue
		}

		dest := filepath.Join(worktreePath, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
			return fmt.Errorf("creating parent dir for %s: %w", name, err)
		}

		blob, err := repo.BlobObject(entry.Hash)
		if err != nil {
			return fmt.Errorf("resolving blob for %s: %w", name, err)
		}
		if err := materializeBlob(blob, dest, entry.Mode); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}

		info, err := os.Lstat(dest)
		if err != nil {
			return fmt.Errorf("stat after write for %s: %w", name, err)
		}
		osMode, err := entry.Mode.ToOSFileMode()
		if err != nil {
			return fmt.Errorf("converting mode for %s: %w", name, err)
		}
		idx.Entries = append(idx.Entries, &index.Entry{
			Name:       name,
			Mode:       osMode,
			Hash:       entry.Hash,
			Size:       uint32(info.Size()), //nolint:gosec // index sizes are truncated by design
			ModifiedAt: info.ModTime(),
		})
	}

	sort.Slice(idx.Entries, func(i, j int) bool { return idx.Entries[i].Name < idx.Entries[j].Name })

	indexPath := filepath.Join(adminDir, "index")
	f, err := os.Create(indexPath) //nolint:gosec // adminDir is controlled by agt
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	defer f.Close()

	enc := index.NewEncoder(f)
	if err := enc.Encode(idx); err != nil {
		return fmt.Errorf("encoding index: %w", err)
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
