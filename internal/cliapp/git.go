package cliapp

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/entireio/agt/internal/passthrough"
	"github.com/entireio/agt/internal/porcelain"
)

// newGitCmd forwards every argument straight to git - flag parsing is
// disabled so agt never intercepts a flag meant for git itself.
// "--disable-agt" is recognized by simple presence-check on the raw args.
func newGitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "git -- [args...]",
		Short:              "Run git, filtering agt's shadow branches and commits out of the output",
		DisableFlagParsing: true,
		RunE: func(_ *cobra.Command, rawArgs []string) error {
			args, disableFilter := extractDisableAgtFlag(rawArgs)

			rc, err := loadContext("")
			if err != nil {
				return err
			}
			gitBinary, err := rc.gitBinary()
			if err != nil {
				return err
			}

			if handled, err := porcelain.MaybeHandle(args, rc.Cwd, gitBinary, rc.Config.AgentEmail); handled {
				return err
			}

			code, err := passthrough.Run(passthrough.Options{
				GitBinary:     gitBinary,
				WorkDir:       rc.Cwd,
				Args:          args,
				GitMode:       true,
				DisableFilter: disableFilter,
				BranchPrefix:  rc.Config.BranchPrefix,
				AgentEmail:    rc.Config.AgentEmail,
				Stdout:        os.Stdout,
				Stderr:        os.Stderr,
			})
			if err != nil {
				return fmt.Errorf("git passthrough: %w", err)
			}
			if code != 0 {
				return &SilentError{Err: fmt.Errorf("git exited with status %d", code)}
			}
			return nil
		},
	}
	return cmd
}

func extractDisableAgtFlag(args []string) (filtered []string, disableFilter bool) {
	for _, a := range args {
		if a == "--disable-agt" {
			disableFilter = true
			continue
		}
		filtered = append(filtered, a)
	}
	return filtered, disableFilter
}
