package cliapp

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/entireio/agt/internal/session"
	"github.com/entireio/agt/internal/snapshot"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage agt sessions",
	}
	cmd.AddCommand(newSessionNewCmd())
	cmd.AddCommand(newSessionForkCmd())
	cmd.AddCommand(newSessionRemoveCmd())
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionExportCmd())
	cmd.AddCommand(newSessionRestoreCmd())
	return cmd
}

func newSessionNewCmd() *cobra.Command {
	var id, from, profile, isolation string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new session",
		RunE: func(_ *cobra.Command, _ []string) error {
			return createSession(id, from, profile, isolation)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "session id (default: generated timestamp id)")
	cmd.Flags().StringVar(&from, "from", "", "commit spec, session id, or branch to start from")
	cmd.Flags().StringVar(&profile, "profile", "", "agent profile name")
	cmd.Flags().StringVar(&isolation, "isolation", "none", "isolation mode: none|xdg|chroot")
	return cmd
}

func newSessionForkCmd() *cobra.Command {
	var id, from string
	cmd := &cobra.Command{
		Use:   "fork",
		Short: "Fork a new session from an existing one",
		RunE: func(_ *cobra.Command, _ []string) error {
			if from == "" {
				return fmt.Errorf("--from is required")
			}
			return createSession(id, from, "", "")
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "session id (default: generated timestamp id)")
	cmd.Flags().StringVar(&from, "from", "", "session id or branch to fork from")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func createSession(id, from, profile, isolationFlag string) error {
	rc, err := loadContext(id)
	if err != nil {
		return err
	}
	repo, err := rc.openRepo()
	if err != nil {
		return err
	}

	mgr := session.NewManager(repo, rc.Layout, rc.Config.BranchPrefix)
	meta, err := mgr.Create(session.NewOptions{
		SessionID: id,
		From:      from,
		Profile:   profile,
		Isolation: session.Isolation(isolationFlag),
	}, time.Now())
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	fmt.Printf("Created session %s at %s\n", meta.SessionID, meta.Sandbox)
	return nil
}

func newSessionRemoveCmd() *cobra.Command {
	var id string
	var deleteBranch bool
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a session",
		RunE: func(_ *cobra.Command, _ []string) error {
			rc, err := loadContext(id)
			if err != nil {
				return err
			}
			repo, err := rc.openRepo()
			if err != nil {
				return err
			}
			mgr := session.NewManager(repo, rc.Layout, rc.Config.BranchPrefix)

			if id == "" {
				id, err = pickSession(mgr.Store)
				if err != nil {
					return err
				}
			}

			if err := mgr.Remove(id, deleteBranch); err != nil {
				return fmt.Errorf("removing session %s: %w", id, err)
			}
			fmt.Printf("Removed session %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "session id")
	cmd.Flags().BoolVar(&deleteBranch, "delete-branch", false, "also delete the session's shadow branch")
	return cmd
}

// pickSession offers an interactive picker over live sessions when stdin and
// stdout are both a TTY, mirroring the teacher's sessionPickerCancelValue
// idiom in session.go; non-interactive runs must pass --id explicitly.
func pickSession(store *session.Store) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return "", fmt.Errorf("--id is required in a non-interactive shell")
	}

	sessions, err := store.List()
	if err != nil {
		return "", fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		return "", fmt.Errorf("no sessions to remove")
	}

	options := make([]huh.Option[string], 0, len(sessions))
	for _, s := range sessions {
		options = append(options, huh.NewOption(s.SessionID, s.SessionID))
	}

	var selected string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().Title("Select a session to remove").Options(options...).Value(&selected),
	))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("session picker: %w", err)
	}
	if selected == "" {
		return "", fmt.Errorf("no session selected")
	}
	return selected, nil
}

func newSessionListCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(_ *cobra.Command, _ []string) error {
			rc, err := loadContext("")
			if err != nil {
				return err
			}
			store := session.NewStore(rc.Layout)
			sessions, err := store.List()
			if err != nil {
				return fmt.Errorf("listing sessions: %w", err)
			}

			var repo *git.Repository
			if verbose {
				repo, err = rc.openRepo()
				if err != nil {
					return err
				}
			}

			for _, s := range sessions {
				age := time.Since(time.Unix(s.CreatedAt, 0)).Round(time.Second)
				fmt.Printf("%s\t%s\t%s\n", s.SessionID, s.Branch, age)
				if !verbose {
					continue
				}
				synopsis, err := forkSynopsis(repo, s, store)
				if err != nil {
					fmt.Printf("\t(%v)\n", err)
					continue
				}
				fmt.Printf("\t%s\n", synopsis)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show a what-changed-since-fork synopsis per session")
	return cmd
}

// forkSynopsis reports how many tree paths were added/removed since a
// session's fork point, by diffing the sorted path lists of the fork-point
// tree and the session branch's current tree line by line via
// diffmatchpatch. A path-list diff is plenty to answer "how much has this
// session drifted" without pulling in full content diffing.
func forkSynopsis(repo *git.Repository, meta session.Metadata, _ *session.Store) (string, error) {
	basePaths, err := treePaths(repo, meta.FromCommit)
	if err != nil {
		return "", fmt.Errorf("resolving fork point: %w", err)
	}
	headPaths, err := treePaths(repo, meta.Branch)
	if err != nil {
		return "", fmt.Errorf("resolving session branch: %w", err)
	}

	added, removed := diffPathLists(basePaths, headPaths)
	return fmt.Sprintf("+%d -%d paths since fork", added, removed), nil
}

// treePaths resolves revSpec to a commit and returns its blob paths, sorted
// and newline-joined for use as diffmatchpatch input.
func treePaths(repo *git.Repository, revSpec string) (string, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(revSpec))
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", revSpec, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return "", fmt.Errorf("loading commit %s: %w", revSpec, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return "", fmt.Errorf("loading tree for %s: %w", revSpec, err)
	}

	entries := make(map[string]object.TreeEntry)
	if err := snapshot.FlattenTree(repo, tree, "", entries); err != nil {
		return "", fmt.Errorf("flattening tree for %s: %w", revSpec, err)
	}
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return strings.Join(paths, "\n"), nil
}

// diffPathLists line-diffs two newline-joined path lists and returns the
// number of lines only present in b (added) and only present in a (removed).
func diffPathLists(a, b string) (added, removed int) {
	// Terminate the last line so every line is counted by its newline.
	if a != "" {
		a += "\n"
	}
	if b != "" {
		b += "\n"
	}
	dmp := diffmatchpatch.New()
	aChars, bChars, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffMain(aChars, bChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += strings.Count(d.Text, "\n")
		case diffmatchpatch.DiffDelete:
			removed += strings.Count(d.Text, "\n")
		}
	}
	return added, removed
}

func newSessionExportCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Push a session's branch upstream",
		RunE: func(_ *cobra.Command, _ []string) error {
			rc, err := loadContext(id)
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
			mgr := session.NewManager(repo, rc.Layout, rc.Config.BranchPrefix)
			meta, err := mgr.Export(session.ExportOptions{SessionID: id, Cwd: rc.Cwd, GitBinary: gitBinary})
			if err != nil {
				return fmt.Errorf("exporting session: %w", err)
			}
			fmt.Printf("Exported %s (%s)\n", meta.SessionID, meta.Branch)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "session-id", "", "session id (default: inferred from current directory)")
	return cmd
}
