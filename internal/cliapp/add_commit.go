package cliapp

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entireio/agt/internal/porcelain"
)

// newAddCmd exposes porcelain.Add as "agt add", letting a user inside a
// session sandbox stage files on their own branch without agt's shadow
// machinery getting in the way.
func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "add -- [paths...]",
		Short:              "Stage files on the sandbox's user branch",
		DisableFlagParsing: true,
		RunE: func(_ *cobra.Command, args []string) error {
			rc, err := loadContext("")
			if err != nil {
				return err
			}
			opts, err := porcelain.ParseAddArgs(args)
			if err != nil {
				return err
			}
			if err := porcelain.Add(rc.Cwd, opts); err != nil {
				return fmt.Errorf("git add: %w", err)
			}
			return nil
		},
	}
	return cmd
}

// newCommitCmd exposes porcelain.Commit as "agt commit".
func newCommitCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit the staged index on the sandbox's user branch",
		RunE: func(_ *cobra.Command, _ []string) error {
			rc, err := loadContext("")
			if err != nil {
				return err
			}
			gitBinary, err := rc.gitBinary()
			if err != nil {
				return err
			}
			hash, err := porcelain.Commit(rc.Cwd, message, gitBinary, rc.Config.AgentEmail)
			if err != nil {
				return fmt.Errorf("git commit: %w", err)
			}
			fmt.Printf("Created commit %s\n", hash)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}
