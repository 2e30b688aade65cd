package cliapp

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entireio/agt/internal/restore"
	"github.com/entireio/agt/internal/session"
)

func newSessionRestoreCmd() *cobra.Command {
	var sessionID, commitSpec string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a session's sandbox to a shadow commit",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runRestore(sessionID, commitSpec)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session-id", "", "session id")
	cmd.Flags().StringVar(&commitSpec, "commit", "", "shadow commit to restore")
	_ = cmd.MarkFlagRequired("session-id")
	_ = cmd.MarkFlagRequired("commit")
	return cmd
}

func runRestore(sessionID, commitSpec string) error {
	rc, err := loadContext(sessionID)
	if err != nil {
		return err
	}
	repo, err := rc.openRepo()
	if err != nil {
		return err
	}
	gitBinary, err := rc.gitBinary()
	if err != nil {
		return err
	}

	store := session.NewStore(rc.Layout)
	engine := restore.NewEngine(repo, store)
	res, err := engine.Restore(restore.Options{SessionID: sessionID, CommitSpec: commitSpec, GitBinary: gitBinary})
	if err != nil {
		return fmt.Errorf("restoring session %s: %w", sessionID, err)
	}
	fmt.Printf("Restored %s to %s (user parent %s)\n", sessionID, res.ShadowCommit, res.UserParent)
	return nil
}
