package cliapp

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/spf13/cobra"

	"github.com/entireio/agt/internal/gitutil"
	"github.com/entireio/agt/internal/paths"
	"github.com/entireio/agt/internal/worktree"
)

// newCloneCmd delegates the transport-level clone to the configured git
// binary (spec.md explicitly delegates clone "to the underlying git
// transport"), then attaches a "main" linked worktree the same way §4.A
// does for sessions. Ported from original_source's clone.rs.
func newCloneCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "clone <url> [dir]",
		Short: "Clone a remote repository into an agt-managed layout",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			url := args[0]
			root := "."
			if len(args) == 2 {
				root = args[1]
			}
			absRoot, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", root, err)
			}
			if name == "" {
				name = "project"
			}
			return cloneProject(url, absRoot, name+".git")
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "base name for the bare repository directory (default \"project\")")
	return cmd
}

func cloneProject(url, root, bareDirName string) error {
	layout := paths.NewLayout(root, bareDirName)

	gitBinary, err := gitutil.FindGitBinary("")
	if err != nil {
		return err
	}

	ctx, cancel := gitutil.WithRemoteTimeout(context.Background())
	defer cancel()
	if err := gitutil.CloneBare(ctx, gitBinary, url, layout.BareDir); err != nil {
		return fmt.Errorf("cloning %s: %w", url, err)
	}

	defaultBranch, err := remoteDefaultBranch(layout.BareDir)
	if err != nil {
		return err
	}
	if err := worktree.Add(layout.BareDir, layout.MainWorktree(), "main", defaultBranch); err != nil {
		return fmt.Errorf("attaching main worktree: %w", err)
	}

	fmt.Printf("Cloned %s into %s (main @ %s)\n", url, root, defaultBranch)
	return nil
}

// remoteDefaultBranch reads the bare repo's HEAD symbolic ref, which `git
// clone --bare` already points at the remote's default branch.
func remoteDefaultBranch(gitDir string) (string, error) {
	repo, err := git.PlainOpen(gitDir)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", gitDir, err)
	}
	head, err := repo.Reference("HEAD", false)
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	return string(head.Target()), nil
}
