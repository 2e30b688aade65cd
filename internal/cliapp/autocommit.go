package cliapp

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entireio/agt/internal/autocommit"
	"github.com/entireio/agt/internal/session"
)

func newAutocommitCmd() *cobra.Command {
	var sessionID string
	var timestamp int64
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "autocommit",
		Short: "Snapshot a session's sandbox onto its shadow branch",
		RunE: func(_ *cobra.Command, _ []string) error {
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
			driver := autocommit.NewDriver(repo, store)

			opts := autocommit.Options{
				SessionID:  sessionID,
				Cwd:        rc.Cwd,
				DryRun:     dryRun,
				GitBinary:  gitBinary,
				AgentEmail: rc.Config.AgentEmail,
			}
			if timestamp != 0 {
				opts.OverrideMtime = &timestamp
			}

			res, err := driver.Run(opts)
			if err != nil {
				return fmt.Errorf("autocommit: %w", err)
			}
			printAutocommitResult(res)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session-id", "", "session id")
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "override the mtime threshold (unix seconds)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without committing")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}

func printAutocommitResult(res autocommit.Result) {
	switch {
	case res.Skipped:
		fmt.Println("no changes since last watermark")
	case res.DryRun:
		fmt.Printf("would change %d file(s), delete %d file(s)\n", len(res.Changed), len(res.Deleted))
		for _, f := range res.Changed {
			fmt.Printf("  M %s\n", f)
		}
		for _, f := range res.Deleted {
			fmt.Printf("  D %s\n", f)
		}
	default:
		fmt.Printf("committed %s (%d changed, %d deleted)\n", res.CommitHash, res.ChangedCount, res.DeletedCount)
	}
}
