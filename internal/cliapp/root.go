// Package cliapp wires agt's cobra command tree onto the core packages
// (session, autocommit, restore, worktree) plus the supplemented
// passthrough/porcelain/init/clone/status commands, following the teacher's
// root.go/session.go command-registration style.
package cliapp

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/entireio/agt/internal/config"
	"github.com/entireio/agt/internal/logging"
	"github.com/entireio/agt/internal/telemetry"
)

// Version information, set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// SilentError marks an error whose message has already been printed, so
// main doesn't double-print it. Ported from the teacher's root.go.
type SilentError struct{ Err error }

func (e *SilentError) Error() string { return e.Err.Error() }
func (e *SilentError) Unwrap() error { return e.Err }

// NewRootCmd builds agt's command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "agt",
		Short:         "agt - a git-native session manager for AI coding agents",
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			cwd, _ := os.Getwd()
			cfg, _ := config.Load(cwd)
			client := telemetry.NewClient(Version, cfg.Telemetry)
			defer client.Close()
			client.TrackCommand(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newAutocommitCmd())
	cmd.AddCommand(newGitCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newCommitCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newCloneCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("agt %s (%s)\n", Version, Commit)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// loadContext resolves the project layout and config rooted at cwd, and
// initializes the JSONL logger for sessionID (empty is fine - it falls back
// to a shared agt.log file).
func loadContext(sessionID string) (*runtimeContext, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}
	layout, err := discoverLayout(cwd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(layout.Root)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logSessionID := sessionID
	if logSessionID == "" {
		logSessionID = "agt"
	}
	if err := logging.Init(layout.LogsDir(), logSessionID); err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	return &runtimeContext{Cwd: cwd, Layout: layout, Config: cfg}, nil
}
