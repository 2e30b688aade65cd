// Package session implements the on-disk session store and lifecycle
// manager (spec §4.F, §4.G): JSON metadata and watermark persistence,
// discovery by working directory, and new/fork/remove. It is grounded on
// the teacher's session.go (metadata JSON read/write idioms,
// jsonutil.MarshalIndentWithNewline for pretty output) and
// original_source's prune_session.rs (best-effort, idempotent teardown
// order).
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/entireio/agt/internal/gitutil"
	"github.com/entireio/agt/internal/jsonutil"
	"github.com/entireio/agt/internal/paths"
	"github.com/entireio/agt/internal/validation"
	"github.com/entireio/agt/internal/worktree"
)

// Isolation is the advisory isolation mode recorded on a session.
type Isolation string

const (
	IsolationNone   Isolation = "none"
	IsolationXDG    Isolation = "xdg"
	IsolationChroot Isolation = "chroot"
)

// Metadata is a session's persisted attributes (spec §3). Unknown fields
// are preserved on rewrite by round-tripping through a raw map.
type Metadata struct {
	SessionID  string    `json:"session_id"`
	Branch     string    `json:"branch"`
	Sandbox    string    `json:"sandbox"`
	FromCommit string    `json:"from_commit"`
	FromSpec   string    `json:"from_spec,omitempty"`
	UserBranch string    `json:"user_branch"`
	CreatedAt  int64     `json:"created_at"`
	Profile    string    `json:"profile,omitempty"`
	Isolation  Isolation `json:"isolation,omitempty"`

	extra map[string]json.RawMessage `json:"-"`
}

// ErrNotFound is returned when a session's metadata file does not exist.
var ErrNotFound = errors.New("session: not found")

// ErrAlreadyExists is returned by Create when the target branch ref already exists.
var ErrAlreadyExists = errors.New("session: branch already exists")

// ErrNoSandboxMatch is returned by InferSessionFromCwd when no session's sandbox is an ancestor of cwd.
var ErrNoSandboxMatch = errors.New("session: no session sandbox matches the current directory")

// Store reads and writes session metadata/watermarks under a Layout's
// <bare>/agt/ state directory.
type Store struct {
	Layout *paths.Layout
}

// NewStore returns a Store rooted at layout.
func NewStore(layout *paths.Layout) *Store {
	return &Store{Layout: layout}
}

// Load reads a session's metadata file. Returns ErrNotFound if absent.
func (s *Store) Load(sessionID string) (Metadata, error) {
	p, err := s.Layout.SessionMetadataPath(sessionID)
	if err != nil {
		return Metadata{}, err
	}
	data, err := os.ReadFile(p) //nolint:gosec // path built from validated session id
	if errors.Is(err, os.ErrNotExist) {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("reading session metadata %s: %w", p, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Metadata{}, fmt.Errorf("parsing session metadata %s: %w", p, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parsing session metadata %s: %w", p, err)
	}
	meta.extra = raw
	return meta, nil
}

// Save pretty-prints meta to its metadata file, creating parent directories
// as needed and preserving any unknown fields captured by Load.
func (s *Store) Save(meta Metadata) error {
	if err := validation.ValidateSessionID(meta.SessionID); err != nil {
		return err
	}
	p, err := s.Layout.SessionMetadataPath(meta.SessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("creating sessions metadata dir: %w", err)
	}

	merged, err := mergeExtra(meta)
	if err != nil {
		return err
	}
	data, err := jsonutil.MarshalIndentWithNewline(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session metadata: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("writing session metadata %s: %w", p, err)
	}
	return nil
}

// mergeExtra re-serializes meta's known fields and overlays them onto any
// unknown fields captured at Load time, so a rewrite never drops fields this
// version of agt doesn't understand.
func mergeExtra(meta Metadata) (map[string]json.RawMessage, error) {
	known, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling known fields: %w", err)
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	merged := make(map[string]json.RawMessage, len(meta.extra)+len(knownMap))
	for k, v := range meta.extra {
		merged[k] = v
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return merged, nil
}

// Remove deletes a session's metadata file. Idempotent.
func (s *Store) Remove(sessionID string) error {
	p, err := s.Layout.SessionMetadataPath(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session metadata %s: %w", p, err)
	}
	return nil
}

// List enumerates every parseable *.json file in the sessions directory.
// Unparseable files are skipped, not errors.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.Layout.SessionsMetadataDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sessions metadata dir: %w", err)
	}

	var out []Metadata
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		meta, err := s.Load(id)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// InferSessionFromCwd canonicalizes cwd and returns the first session whose
// sandbox is cwd or an ancestor of cwd.
func (s *Store) InferSessionFromCwd(cwd string) (Metadata, error) {
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return Metadata{}, fmt.Errorf("resolving cwd: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		resolved = abs
	}

	sessions, err := s.List()
	if err != nil {
		return Metadata{}, err
	}
	for _, meta := range sessions {
		if meta.Sandbox == resolved || strings.HasPrefix(resolved, meta.Sandbox+string(filepath.Separator)) {
			return meta, nil
		}
	}
	return Metadata{}, ErrNoSandboxMatch
}

// ReadWatermark returns the watermark for sessionID, or 0 if the file is missing.
func (s *Store) ReadWatermark(sessionID string) (int64, error) {
	p, err := s.Layout.TimestampPath(sessionID)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(p) //nolint:gosec // path built from validated session id
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading watermark %s: %w", p, err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing watermark %s: %w", p, err)
	}
	return v, nil
}

// WriteWatermark overwrites sessionID's watermark with value (Unix seconds).
func (s *Store) WriteWatermark(sessionID string, value int64) error {
	p, err := s.Layout.TimestampPath(sessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("creating timestamps dir: %w", err)
	}
	if err := os.WriteFile(p, []byte(strconv.FormatInt(value, 10)), 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("writing watermark %s: %w", p, err)
	}
	return nil
}

// RemoveWatermark deletes sessionID's watermark file. Idempotent.
func (s *Store) RemoveWatermark(sessionID string) error {
	p, err := s.Layout.TimestampPath(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing watermark %s: %w", p, err)
	}
	return nil
}

// Manager builds on Store to implement the G lifecycle operations
// (new/fork/remove) against a bare repository.
type Manager struct {
	Store        *Store
	Layout       *paths.Layout
	Repo         *git.Repository
	BranchPrefix string
}

// NewManager returns a Manager for repo at layout, using branchPrefix for shadow branch names.
func NewManager(repo *git.Repository, layout *paths.Layout, branchPrefix string) *Manager {
	return &Manager{Store: NewStore(layout), Layout: layout, Repo: repo, BranchPrefix: branchPrefix}
}

// NewOptions configures session creation (spec §4.G "session new | fork").
type NewOptions struct {
	SessionID string // empty: generated as session-YYYYMMDD-HHMMSS
	From      string // optional: raw spec, "<prefix><spec>", or another session id
	Profile   string
	Isolation Isolation
}

// GenerateSessionID returns a session id in the teacher's timestamp convention.
func GenerateSessionID(now time.Time) string {
	return "session-" + now.UTC().Format("20060102-150405")
}

// Create implements "session new"/"session fork" (spec §4.G steps 1-6):
// resolve the start commit and user branch, create the shadow branch ref,
// create the session directories, call worktree.Add, and persist watermark
// + metadata. Unwinds on failure.
func (m *Manager) Create(opts NewOptions, createdAt time.Time) (Metadata, error) {
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = GenerateSessionID(createdAt)
	}
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return Metadata{}, err
	}

	branchName := m.BranchPrefix + sessionID
	refName := plumbing.NewBranchReferenceName(branchName)
	if _, err := m.Repo.Reference(refName, true); err == nil {
		return Metadata{}, fmt.Errorf("%w: %s", ErrAlreadyExists, branchName)
	}

	startCommit, fromSpecResolved, err := m.resolveStart(opts.From)
	if err != nil {
		return Metadata{}, fmt.Errorf("resolving start commit: %w", err)
	}
	userBranch, err := m.resolveUserBranch(opts.From)
	if err != nil {
		return Metadata{}, fmt.Errorf("resolving user branch: %w", err)
	}

	newRef := plumbing.NewHashReference(refName, startCommit)
	if err := m.Repo.Storer.SetReference(newRef); err != nil {
		return Metadata{}, fmt.Errorf("creating shadow branch ref: %w", err)
	}

	sandbox, err := m.Layout.SessionSandbox(sessionID)
	if err != nil {
		return Metadata{}, m.unwindRef(refName, err)
	}
	configDir, err := m.Layout.SessionConfigDir(sessionID)
	if err != nil {
		return Metadata{}, m.unwindRef(refName, err)
	}
	xdgDir, err := m.Layout.SessionXDGDir(sessionID)
	if err != nil {
		return Metadata{}, m.unwindRef(refName, err)
	}
	for _, d := range []string{configDir, xdgDir} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return Metadata{}, m.unwindCreate(refName, sessionID, fmt.Errorf("creating %s: %w", d, err))
		}
	}

	if err := worktree.Add(m.Layout.BareDir, sandbox, sessionID, string(refName)); err != nil {
		return Metadata{}, m.unwindCreate(refName, sessionID, fmt.Errorf("adding sandbox worktree: %w", err))
	}

	meta := Metadata{
		SessionID:  sessionID,
		Branch:     branchName,
		Sandbox:    sandbox,
		FromCommit: startCommit.String(),
		FromSpec:   fromSpecResolved,
		UserBranch: userBranch,
		CreatedAt:  createdAt.Unix(),
		Profile:    opts.Profile,
		Isolation:  opts.Isolation,
	}

	if err := m.Store.WriteWatermark(sessionID, 0); err != nil {
		return Metadata{}, m.unwindCreate(refName, sessionID, err)
	}
	if err := m.Store.Save(meta); err != nil {
		return Metadata{}, m.unwindCreate(refName, sessionID, err)
	}

	return meta, nil
}

func (m *Manager) unwindRef(refName plumbing.ReferenceName, cause error) error {
	_ = m.Repo.Storer.RemoveReference(refName)
	return cause
}

func (m *Manager) unwindCreate(refName plumbing.ReferenceName, sessionID string, cause error) error {
	folder, _ := m.Layout.SessionFolder(sessionID)
	if folder != "" {
		_ = worktree.Remove(m.Layout.BareDir, filepath.Join(folder, "sandbox"), sessionID)
		_ = os.RemoveAll(folder)
	}
	_ = m.Repo.Storer.RemoveReference(refName)
	return cause
}

// resolveStart resolves spec via the fallback chain: raw spec -> "<prefix>spec" -> current HEAD.
func (m *Manager) resolveStart(spec string) (plumbing.Hash, string, error) {
	if spec == "" {
		head, err := m.Repo.Head()
		if err != nil {
			return plumbing.ZeroHash, "", fmt.Errorf("resolving HEAD: %w", err)
		}
		return head.Hash(), "", nil
	}

	if hash, err := m.Repo.ResolveRevision(plumbing.Revision(spec)); err == nil {
		return *hash, spec, nil
	}
	prefixed := m.BranchPrefix + spec
	if hash, err := m.Repo.ResolveRevision(plumbing.Revision(prefixed)); err == nil {
		return *hash, spec, nil
	}
	return plumbing.ZeroHash, "", fmt.Errorf("spec %q does not resolve to a commit", spec)
}

// resolveUserBranch implements the §3 "user_branch" resolution order: the
// user_branch of a session whose id equals from_spec; an existing local
// branch named by from_spec; else the current HEAD referent.
func (m *Manager) resolveUserBranch(fromSpec string) (string, error) {
	if fromSpec != "" {
		if other, err := m.Store.Load(fromSpec); err == nil {
			return other.UserBranch, nil
		}
		refName := plumbing.NewBranchReferenceName(fromSpec)
		if _, err := m.Repo.Reference(refName, true); err == nil {
			return string(refName), nil
		}
	}
	head, err := m.Repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		return string(head.Name()), nil
	}
	return "", fmt.Errorf("HEAD is not a branch and no from-spec branch was resolvable")
}

// Remove implements "session remove" (spec §4.G step list). Every step is
// best-effort and idempotent; a missing session folder or metadata file is
// not an error.
func (m *Manager) Remove(sessionID string, deleteBranch bool) error {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return err
	}

	sandbox, err := m.Layout.SessionSandbox(sessionID)
	if err != nil {
		return err
	}
	if meta, err := m.Store.Load(sessionID); err == nil && meta.Sandbox != "" {
		sandbox = meta.Sandbox
	}

	if err := worktree.Remove(m.Layout.BareDir, sandbox, sessionID); err != nil {
		return fmt.Errorf("removing sandbox worktree: %w", err)
	}

	sessionFolder, err := m.Layout.SessionFolder(sessionID)
	if err == nil && filepath.Base(filepath.Dir(sandbox)) == sessionID {
		_ = os.RemoveAll(sessionFolder)
	}

	if deleteBranch {
		refName := plumbing.NewBranchReferenceName(m.BranchPrefix + sessionID)
		_ = m.Repo.Storer.RemoveReference(refName)
	}

	_ = m.Store.RemoveWatermark(sessionID)
	_ = m.Store.Remove(sessionID)

	return nil
}

// ExportOptions configures "session export".
type ExportOptions struct {
	SessionID string // empty: inferred from cwd
	Cwd       string
	GitBinary string
}

// Export implements "session export" (spec §4.G): requires a clean sandbox,
// then pushes its current branch to origin using the external git binary.
func (m *Manager) Export(opts ExportOptions) (Metadata, error) {
	sessionID := opts.SessionID
	var meta Metadata
	var err error
	if sessionID == "" {
		meta, err = m.Store.InferSessionFromCwd(opts.Cwd)
	} else {
		meta, err = m.Store.Load(sessionID)
	}
	if err != nil {
		return Metadata{}, err
	}

	ctx, cancel := gitutil.WithRemoteTimeout(context.Background())
	defer cancel()

	clean, err := gitutil.IsClean(ctx, opts.GitBinary, meta.Sandbox)
	if err != nil {
		return Metadata{}, fmt.Errorf("checking sandbox status: %w", err)
	}
	if !clean {
		return Metadata{}, fmt.Errorf("sandbox %s is not clean; commit or discard changes before export", meta.Sandbox)
	}

	branch := strings.TrimPrefix(meta.UserBranch, "refs/heads/")
	if meta.Branch != "" {
		branch = strings.TrimPrefix(meta.Branch, "refs/heads/")
	}
	if err := gitutil.PushBranch(ctx, opts.GitBinary, meta.Sandbox, branch); err != nil {
		return Metadata{}, fmt.Errorf("pushing %s: %w", branch, err)
	}
	return meta, nil
}
