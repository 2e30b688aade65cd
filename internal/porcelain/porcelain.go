// Package porcelain implements agt's minimal "git add"/"git commit"
// reimplementation (spec §1's "thin git passthrough... and a minimal git
// add/commit porcelain reimplementation"), ported from original_source's
// git_porcelain.rs. The original hand-rolls index surgery against gix
// because gix has no porcelain convenience layer; go-git already ships one
// (git.Worktree.Add/AddWithOptions/Commit), so this package leans on that
// instead of reimplementing index encoding - the same "keep the HOW,
// replace the library" substitution the teacher's own testutil.go makes
// (GitAdd/GitCommit wrap go-git's Worktree, not a hand-rolled index writer).
package porcelain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/entireio/agt/internal/gitutil"
)

// ErrNoArgs is returned when add/commit requires arguments that were not supplied.
var ErrNoArgs = errors.New("porcelain: missing required arguments")

// AddOptions mirrors git add's -A/-u/pathspec forms.
type AddOptions struct {
	All    bool
	Update bool
	Paths  []string
}

// ParseAddArgs parses a git-add-style argument list (without the leading
// "add"). Mirrors git_porcelain.rs's parse_add_args.
func ParseAddArgs(args []string) (AddOptions, error) {
	var opts AddOptions
	afterDoubleDash := false

	for _, arg := range args {
		if afterDoubleDash {
			opts.Paths = append(opts.Paths, arg)
			continue
		}
		switch arg {
		case "-A", "--all":
			opts.All = true
		case "-u", "--update":
			opts.Update = true
		case "--":
			afterDoubleDash = true
		default:
			if strings.HasPrefix(arg, "-") {
				return AddOptions{}, fmt.Errorf("unsupported git add flag: %s", arg)
			}
			opts.Paths = append(opts.Paths, arg)
		}
	}

	if !opts.All && !opts.Update && len(opts.Paths) == 0 {
		return AddOptions{}, fmt.Errorf("%w: git add requires paths or -A/-u", ErrNoArgs)
	}
	return opts, nil
}

// Add stages files in the worktree at repoDir per opts.
func Add(repoDir string, opts AddOptions) error {
	repo, err := git.PlainOpen(repoDir)
	if err != nil {
		return fmt.Errorf("opening repository at %s: %w", repoDir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("resolving worktree: %w", err)
	}

	switch {
	case opts.All:
		if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
			return fmt.Errorf("staging all changes: %w", err)
		}
	case opts.Update:
		if err := stageTracked(wt); err != nil {
			return err
		}
	default:
		for _, p := range opts.Paths {
			if _, err := wt.Add(p); err != nil {
				return fmt.Errorf("staging %s: %w", p, err)
			}
		}
	}
	return nil
}

// stageTracked re-stages every file the index already tracks, without
// adding newly untracked files - git add -u's semantics.
func stageTracked(wt *git.Worktree) error {
	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("reading worktree status: %w", err)
	}
	for path, fileStatus := range status {
		if fileStatus.Staging == git.Untracked && fileStatus.Worktree == git.Untracked {
			continue
		}
		if fileStatus.Worktree == git.Unmodified {
			continue
		}
		if _, err := wt.Add(path); err != nil {
			return fmt.Errorf("staging %s: %w", path, err)
		}
	}
	return nil
}

// ParseCommitMessage parses a git-commit-style argument list (without the
// leading "commit"), accepting one or more "-m"/"--message" values joined
// by a blank line, matching git's own -m concatenation.
func ParseCommitMessage(args []string) (string, error) {
	var messages []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-m", "--message":
			if i+1 >= len(args) {
				return "", fmt.Errorf("expected message after %s", args[i])
			}
			i++
			messages = append(messages, args[i])
		default:
			if strings.HasPrefix(args[i], "-") {
				return "", fmt.Errorf("unsupported git commit flag: %s", args[i])
			}
		}
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: git commit requires -m/--message", ErrNoArgs)
	}
	return strings.Join(messages, "\n\n"), nil
}

// Commit commits the current index at repoDir with message, using the
// repository's configured identity (falling back to gitBinary/agentEmail
// per gitutil.ResolveIdentity), and returns the new commit hash.
func Commit(repoDir, message, gitBinary, agentEmail string) (plumbing.Hash, error) {
	repo, err := git.PlainOpen(repoDir)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("opening repository at %s: %w", repoDir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolving worktree: %w", err)
	}

	identity := gitutil.ResolveIdentity(repo, gitBinary, agentEmail)
	sig := &object.Signature{Name: identity.Name, Email: identity.Email, When: time.Now()}

	hash, err := wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("committing: %w", err)
	}
	return hash, nil
}

// MaybeHandle dispatches a full argument list (including the leading
// subcommand) to Add or Commit if it names one, returning handled=false for
// anything else so the caller falls through to passthrough.
func MaybeHandle(args []string, repoDir, gitBinary, agentEmail string) (handled bool, err error) {
	if len(args) == 0 {
		return false, nil
	}
	switch args[0] {
	case "add":
		opts, err := ParseAddArgs(args[1:])
		if err != nil {
			return true, err
		}
		return true, Add(repoDir, opts)
	case "commit":
		message, err := ParseCommitMessage(args[1:])
		if err != nil {
			return true, err
		}
		hash, err := Commit(repoDir, message, gitBinary, agentEmail)
		if err != nil {
			return true, err
		}
		fmt.Printf("Created commit %s\n", hash)
		return true, nil
	default:
		return false, nil
	}
}
