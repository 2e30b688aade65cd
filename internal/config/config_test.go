package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AGT_GIT_PATH", "")
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_LocalOverridesGlobal(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("AGT_GIT_PATH", "")

	globalConfig := "[agt]\n\tagentEmail = global@agt.local\n\tbranchPrefix = global-sessions/\n"
	require.NoError(t, os.WriteFile(filepath.Join(home, ".agtconfig"), []byte(globalConfig), 0o644))

	repoRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repoRoot, ".agt"), 0o755))
	localConfig := "[agt]\n\tagentEmail = local@agt.local\n"
	require.NoError(t, os.WriteFile(filepath.Join(repoRoot, ".agt", "config"), []byte(localConfig), 0o644))

	cfg, err := Load(repoRoot)
	require.NoError(t, err)
	require.Equal(t, "local@agt.local", cfg.AgentEmail)
	require.Equal(t, "global-sessions/", cfg.BranchPrefix, "local file never set branchPrefix, global value should survive")
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	globalConfig := "[agt]\n\tgitPath = /opt/git/bin/git\n"
	require.NoError(t, os.WriteFile(filepath.Join(home, ".agtconfig"), []byte(globalConfig), 0o644))

	t.Setenv("AGT_GIT_PATH", "/custom/git")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/custom/git", cfg.GitPath)
}

func TestLoad_SchemaVersionCompatible(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("AGT_GIT_PATH", "")

	globalConfig := "[agt]\n\tschemaVersion = 1.2.0\n"
	require.NoError(t, os.WriteFile(filepath.Join(home, ".agtconfig"), []byte(globalConfig), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "1.2.0", cfg.SchemaVersion)
}

func TestLoad_SchemaVersionIncompatibleMajor(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("AGT_GIT_PATH", "")

	globalConfig := "[agt]\n\tschemaVersion = 2.0.0\n"
	require.NoError(t, os.WriteFile(filepath.Join(home, ".agtconfig"), []byte(globalConfig), 0o644))

	_, err := Load("")
	require.ErrorIs(t, err, ErrIncompatibleSchema)
}
