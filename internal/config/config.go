// Package config loads agt's INI-style configuration, using the same syntax
// as git-config. Parsing is delegated to go-git's own
// plumbing/format/config package rather than a hand-rolled INI parser -
// the corpus already depends on it (internal/testutil's fixtures manipulate
// the same config.Config/Section/Option types) and it is git-config
// compatible, which a hand-rolled parser would only approximate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	gitconfig "github.com/go-git/go-git/v5/plumbing/format/config"
	"golang.org/x/mod/semver"
)

// EnvGitPath overrides gitPath unconditionally once set.
const EnvGitPath = "AGT_GIT_PATH"

// CurrentSchemaVersion is the .agtconfig schema version this build
// understands. A config file naming a newer major version is rejected
// rather than silently misread, the same compatibility gate the teacher's
// versioncheck package applies to its own settings schema.
const CurrentSchemaVersion = "v1.0.0"

// ErrIncompatibleSchema is returned when a config file's schemaVersion key
// names a major version newer than CurrentSchemaVersion.
var ErrIncompatibleSchema = errors.New("config: schema version is newer than this build supports")

// Config holds the resolved [agt] section settings.
type Config struct {
	// GitPath is the absolute path to the external git binary used for
	// reset/status/push/clone subprocess calls.
	GitPath string
	// AgentEmail is used as the commit author/committer email for shadow commits.
	AgentEmail string
	// BranchPrefix prefixes every shadow branch name.
	BranchPrefix string
	// UserEmail is an optional reporting identity, distinct from AgentEmail.
	UserEmail string
	// Telemetry is the opt-in usage reporting preference; nil means unset
	// (defaults to disabled), matching the teacher's settings.Telemetry.
	Telemetry *bool
	// SchemaVersion is the schemaVersion key a config file declared, or ""
	// if neither layer set one (treated as compatible).
	SchemaVersion string
}

// Default returns the built-in defaults, matching the original config's
// defaults: git at /usr/bin/git, agent identity "agt@local", and the
// "agtsessions/" branch prefix named throughout spec.md.
func Default() Config {
	return Config{
		GitPath:      "/usr/bin/git",
		AgentEmail:   "agt@local",
		BranchPrefix: "agtsessions/",
	}
}

// Load reads ~/.agtconfig (global) then <repoRoot>/.agt/config (local,
// overrides global), merges them over the defaults, and applies the
// AGT_GIT_PATH environment override last. repoRoot may be empty, in which
// case only the global file and environment are consulted (mirrors
// load_for_init in the original source, used before a repository exists).
func Load(repoRoot string) (Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		globalPath := filepath.Join(home, ".agtconfig")
		if overlay, ok, err := loadFile(globalPath); err != nil {
			return Config{}, err
		} else if ok {
			if err := mergeOverlay(&cfg, overlay); err != nil {
				return Config{}, err
			}
		}
	}

	if repoRoot != "" {
		localPath := filepath.Join(repoRoot, ".agt", "config")
		if overlay, ok, err := loadFile(localPath); err != nil {
			return Config{}, err
		} else if ok {
			if err := mergeOverlay(&cfg, overlay); err != nil {
				return Config{}, err
			}
		}
	}

	if v := os.Getenv(EnvGitPath); v != "" {
		cfg.GitPath = v
	}

	return cfg, nil
}

// loadFile parses an INI file at path into an overlay Config containing only
// the keys actually present (zero-value fields are left unset so mergo's
// WithOverride doesn't clobber earlier layers with blanks). Returns ok=false
// if the file does not exist.
func loadFile(path string) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path built from home dir / repo root, not user input
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, false, nil
	}
	if err != nil {
		return Config{}, false, fmt.Errorf("reading config %s: %w", path, err)
	}

	decoded := gitconfig.New()
	if err := gitconfig.NewDecoder(bytes.NewReader(data)).Decode(decoded); err != nil {
		return Config{}, false, fmt.Errorf("parsing config %s: %w", path, err)
	}

	section := decoded.Section("agt")
	overlay := Config{
		GitPath:       section.Option("gitPath"),
		AgentEmail:    section.Option("agentEmail"),
		BranchPrefix:  section.Option("branchPrefix"),
		UserEmail:     section.Option("userEmail"),
		SchemaVersion: section.Option("schemaVersion"),
	}
	if raw := section.Option("telemetry"); raw != "" {
		enabled := raw == "true" || raw == "1"
		overlay.Telemetry = &enabled
	}
	if overlay.SchemaVersion != "" {
		if err := checkSchemaVersion(overlay.SchemaVersion); err != nil {
			return Config{}, false, fmt.Errorf("%s: %w", path, err)
		}
	}
	return overlay, true, nil
}

// checkSchemaVersion rejects a config declaring a newer major schema version
// than this build understands. semver requires a "v" prefix; schemaVersion
// values are written without one (matching .agtconfig's other bare-string
// values), so it's normalized before comparison.
func checkSchemaVersion(declared string) error {
	v := declared
	if v[0] != 'v' {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("invalid schemaVersion %q", declared)
	}
	if semver.Compare(semver.Major(v), semver.Major(CurrentSchemaVersion)) > 0 {
		return fmt.Errorf("%w: declared %s, build supports %s", ErrIncompatibleSchema, declared, CurrentSchemaVersion)
	}
	return nil
}

// mergeOverlay merges non-empty overlay fields onto base, with the overlay
// winning. mergo's default semantics (even under WithOverride) never let a
// zero-valued source field stomp a non-empty destination field, which is
// exactly "local overrides global, but only for keys it actually sets".
func mergeOverlay(base *Config, overlay Config) error {
	if err := mergo.Merge(base, overlay, mergo.WithOverride); err != nil {
		return fmt.Errorf("merging config layer: %w", err)
	}
	return nil
}
