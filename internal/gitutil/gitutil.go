// Package gitutil wraps the handful of operations agt delegates to an
// external git binary instead of go-git: hard reset, status, push, and
// clone. The teacher's git_operations.go shells out to git for exactly the
// same reason in each case - go-git either doesn't support the operation
// (clone with credential helpers, push) or has known behavioral gaps
// (Checkout deleting untracked files: go-git/go-git#970; gitignore-unaware
// status). agt's restore/export paths hit the same gaps, so the same
// workaround applies.
package gitutil

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/format/config"
)

// Identity is the author/committer identity used for shadow commits.
type Identity struct {
	Name  string
	Email string
}

// ResolveIdentity returns the git user.name/user.email configured for repo.
// When repo config leaves a field unset, the name falls back to the external
// git binary (covers config locations go-git's in-process resolution misses)
// and then to "agt"; the email falls back to agentEmail when it is non-empty,
// and only otherwise to the git binary's user.email.
func ResolveIdentity(repo *git.Repository, gitBinary, agentEmail string) Identity {
	name, email := "agt", agentEmail

	if repo != nil {
		if cfg, err := repo.Config(); err == nil {
			if cfg.User.Name != "" {
				name = cfg.User.Name
			}
			if cfg.User.Email != "" {
				email = cfg.User.Email
			}
		}
	}

	if name == "agt" {
		if v := configValue(gitBinary, "user.name"); v != "" {
			name = v
		}
	}
	if email == agentEmail && agentEmail == "" {
		if v := configValue(gitBinary, "user.email"); v != "" {
			email = v
		}
	}

	return Identity{Name: name, Email: email}
}

func configValue(gitBinary, key string) string {
	if gitBinary == "" {
		gitBinary = "git"
	}
	cmd := exec.CommandContext(context.Background(), gitBinary, "config", "--get", key) //nolint:gosec // gitBinary comes from agt config, key is a literal
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// ResetHard runs `git reset --hard <ref>` in workDir.
func ResetHard(ctx context.Context, gitBinary, workDir, ref string) error {
	return run(ctx, gitBinary, workDir, "reset", "--hard", ref)
}

// StatusPorcelain runs `git status --porcelain` in workDir and returns the raw output.
func StatusPorcelain(ctx context.Context, gitBinary, workDir string) (string, error) {
	if gitBinary == "" {
		gitBinary = "git"
	}
	cmd := exec.CommandContext(ctx, gitBinary, "status", "--porcelain") //nolint:gosec // gitBinary from agt config
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git status --porcelain in %s: %w", workDir, err)
	}
	return string(out), nil
}

// IsClean reports whether StatusPorcelain produced no output.
func IsClean(ctx context.Context, gitBinary, workDir string) (bool, error) {
	out, err := StatusPorcelain(ctx, gitBinary, workDir)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// PushBranch runs `git push origin <branch>` in workDir.
func PushBranch(ctx context.Context, gitBinary, workDir, branch string) error {
	return run(ctx, gitBinary, workDir, "push", "origin", branch)
}

// CloneBare runs `git clone --bare <url> <dest>`.
func CloneBare(ctx context.Context, gitBinary, url, dest string) error {
	return run(ctx, gitBinary, "", "clone", "--bare", url, dest)
}

func run(ctx context.Context, gitBinary, workDir string, args ...string) error {
	if gitBinary == "" {
		gitBinary = "git"
	}
	cmd := exec.CommandContext(ctx, gitBinary, args...) //nolint:gosec // gitBinary from agt config, args built internally
	if workDir != "" {
		cmd.Dir = workDir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %s: %w", gitBinary, strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return nil
}

// ErrBinaryNotFound is returned by FindGitBinary when no usable git binary can be located.
var ErrBinaryNotFound = errors.New("git binary not found; set gitPath in .agtconfig or AGT_GIT_PATH")

// FindGitBinary resolves the git binary to invoke: the configured path if it
// exists, else whatever "git" resolves to on PATH, else a short list of
// conventional install locations. Mirrors gix_cli.rs's find_git_binary.
func FindGitBinary(configured string) (string, error) {
	if configured != "" {
		if _, err := exec.LookPath(configured); err == nil {
			return configured, nil
		}
		if pathExists(configured) {
			return configured, nil
		}
	}

	if p, err := exec.LookPath("git"); err == nil {
		return p, nil
	}

	for _, candidate := range []string{"/usr/bin/git", "/usr/local/bin/git", "/opt/homebrew/bin/git"} {
		if pathExists(candidate) {
			return candidate, nil
		}
	}

	return "", ErrBinaryNotFound
}

func pathExists(path string) bool {
	cmd := exec.Command(path, "--version") //nolint:gosec // probing a specific candidate path
	return cmd.Run() == nil
}

// DisableGPGSign sets commit.gpgsign=false on repo's config, mirroring
// internal/testutil fixtures and the teacher's own test setup - shadow
// commits are machine-authored and must never block on an interactive
// signing prompt.
func DisableGPGSign(repo *git.Repository) error {
	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("reading repo config: %w", err)
	}
	if cfg.Raw == nil {
		cfg.Raw = config.New()
	}
	cfg.Raw.Section("commit").SetOption("gpgsign", "false")
	if err := repo.SetConfig(cfg); err != nil {
		return fmt.Errorf("writing repo config: %w", err)
	}
	return nil
}

// timeout is the default bound for subprocess git operations that touch a remote.
const timeout = 2 * time.Minute

// WithRemoteTimeout returns a context bounded by timeout for remote-touching
// operations (push, clone), consistent with FetchAndCheckoutRemoteBranch's
// 2-minute budget in the teacher.
func WithRemoteTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}
