package porcelain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/require"
)

func newWorkingRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return dir
}

func TestParseAddArgs(t *testing.T) {
	opts, err := ParseAddArgs([]string{"-A"})
	require.NoError(t, err)
	require.True(t, opts.All)

	opts, err = ParseAddArgs([]string{"a.txt", "b.txt"})
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "b.txt"}, opts.Paths)

	_, err = ParseAddArgs(nil)
	require.ErrorIs(t, err, ErrNoArgs)

	_, err = ParseAddArgs([]string{"--bogus"})
	require.Error(t, err)
}

func TestParseCommitMessage(t *testing.T) {
	msg, err := ParseCommitMessage([]string{"-m", "first", "-m", "second"})
	require.NoError(t, err)
	require.Equal(t, "first\n\nsecond", msg)

	_, err = ParseCommitMessage(nil)
	require.ErrorIs(t, err, ErrNoArgs)
}

func TestAddThenCommit(t *testing.T) {
	dir := newWorkingRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	require.NoError(t, Add(dir, AddOptions{All: true}))

	hash, err := Commit(dir, "initial commit", "git", "agt@local")
	require.NoError(t, err)
	require.NotEmpty(t, hash.String())

	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	require.Equal(t, hash, head.Hash())
}

func TestMaybeHandle_UnknownSubcommandNotHandled(t *testing.T) {
	handled, err := MaybeHandle([]string{"status"}, "", "git", "agt@local")
	require.NoError(t, err)
	require.False(t, handled)
}
