package cliapp

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/spf13/cobra"

	"github.com/entireio/agt/internal/gitutil"
	"github.com/entireio/agt/internal/paths"
	"github.com/entireio/agt/internal/worktree"
)

// newInitCmd lays out a fresh "<name>.git/" bare repo, "main/" worktree, and
// empty "sessions/"/"agt/" subtree - the repository layout spec.md §3
// assumes already exists. Ported from original_source's init.rs.
func newInitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a new agt-managed repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			absRoot, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", root, err)
			}
			if name == "" {
				name = "project"
			}
			return initProject(absRoot, name+".git")
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "base name for the bare repository directory (default \"project\")")
	return cmd
}

func initProject(root, bareDirName string) error {
	layout := paths.NewLayout(root, bareDirName)

	if err := os.MkdirAll(root, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", root, err)
	}

	repo, err := git.PlainInit(layout.BareDir, true)
	if err != nil {
		return fmt.Errorf("initializing bare repository %s: %w", layout.BareDir, err)
	}
	if err := gitutil.DisableGPGSign(repo); err != nil {
		return err
	}

	if err := os.MkdirAll(layout.SessionsDir(), 0o750); err != nil {
		return fmt.Errorf("creating sessions dir: %w", err)
	}
	if err := os.MkdirAll(layout.AGTStateDir(), 0o750); err != nil {
		return fmt.Errorf("creating agt state dir: %w", err)
	}

	emptyCommit, err := createEmptyInitialCommit(repo)
	if err != nil {
		return err
	}
	if err := worktree.Add(layout.BareDir, layout.MainWorktree(), "main", "refs/heads/main"); err != nil {
		return fmt.Errorf("attaching main worktree: %w", err)
	}

	fmt.Printf("Initialized agt repository at %s (main @ %s)\n", root, emptyCommit)
	return nil
}

// createEmptyInitialCommit writes an empty-tree root commit and points
// "refs/heads/main" at it, since worktree.Add requires the target branch ref
// to already resolve to a commit.
func createEmptyInitialCommit(repo *git.Repository) (string, error) {
	identity := gitutil.ResolveIdentity(repo, "git", "")

	treeObj := repo.Storer.NewEncodedObject()
	treeObj.SetType(plumbing.TreeObject)
	if err := (&object.Tree{}).Encode(treeObj); err != nil {
		return "", fmt.Errorf("encoding empty tree: %w", err)
	}
	treeHash, err := repo.Storer.SetEncodedObject(treeObj)
	if err != nil {
		return "", fmt.Errorf("storing empty tree: %w", err)
	}

	sig := object.Signature{Name: identity.Name, Email: identity.Email, When: time.Now()}
	commit := &object.Commit{Author: sig, Committer: sig, Message: "initial commit", TreeHash: treeHash}
	commitObj := repo.Storer.NewEncodedObject()
	commitObj.SetType(plumbing.CommitObject)
	if err := commit.Encode(commitObj); err != nil {
		return "", fmt.Errorf("encoding initial commit: %w", err)
	}
	commitHash, err := repo.Storer.SetEncodedObject(commitObj)
	if err != nil {
		return "", fmt.Errorf("storing initial commit: %w", err)
	}

	refName := plumbing.NewBranchReferenceName("main")
	if err := repo.Storer.SetReference(plumbing.NewHashReference(refName, commitHash)); err != nil {
		return "", fmt.Errorf("setting main ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, refName)); err != nil {
		return "", fmt.Errorf("setting HEAD: %w", err)
	}

	return commitHash.String(), nil
}
