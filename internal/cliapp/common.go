package cliapp

import (
	"fmt"

	"github.com/go-git/go-git/v5"

	"github.com/entireio/agt/internal/config"
	"github.com/entireio/agt/internal/gitutil"
	"github.com/entireio/agt/internal/paths"
)

// runtimeContext bundles the layout/config resolved for the current
// invocation, plus the open bare repository once needed.
type runtimeContext struct {
	Cwd    string
	Layout *paths.Layout
	Config config.Config
}

func (r *runtimeContext) openRepo() (*git.Repository, error) {
	repo, err := git.PlainOpen(r.Layout.BareDir)
	if err != nil {
		return nil, fmt.Errorf("opening bare repository %s: %w", r.Layout.BareDir, err)
	}
	return repo, nil
}

func (r *runtimeContext) gitBinary() (string, error) {
	return gitutil.FindGitBinary(r.Config.GitPath)
}
