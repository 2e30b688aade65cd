package cliapp

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/entireio/agt/internal/session"
)

// newStatusCmd prints the session inferred from the current directory and
// its watermark age. Ported from original_source's status.rs.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session inferred from the current directory",
		RunE: func(_ *cobra.Command, _ []string) error {
			rc, err := loadContext("")
			if err != nil {
				return err
			}
			store := session.NewStore(rc.Layout)
			meta, err := store.InferSessionFromCwd(rc.Cwd)
			if err != nil {
				if errors.Is(err, session.ErrNoSandboxMatch) {
					fmt.Println("not inside a session sandbox")
					return nil
				}
				return err
			}

			watermark, err := store.ReadWatermark(meta.SessionID)
			if err != nil {
				return err
			}
			age := "never"
			if watermark != 0 {
				age = time.Since(time.Unix(watermark, 0)).Round(time.Second).String()
			}

			fmt.Printf("session:    %s\n", meta.SessionID)
			fmt.Printf("branch:     %s\n", meta.Branch)
			fmt.Printf("sandbox:    %s\n", meta.Sandbox)
			fmt.Printf("user branch: %s\n", meta.UserBranch)
			fmt.Printf("watermark age: %s\n", age)
			return nil
		},
	}
}
