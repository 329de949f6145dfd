package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "coordination:\n  base_url: http://localhost:8080\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, ":8081", cfg.API.ListenAddr)
	require.Equal(t, "ceremonies", cfg.Coordination.Terms.Ceremonies)
	require.Equal(t, int64(50*1024*1024), cfg.Storage.PartSize)
	require.Equal(t, 1, cfg.Identity.Thresholds.MinRepos)
	require.Equal(t, "-ph2-ceremony", cfg.Ceremony.BucketPostfix)
	require.True(t, cfg.Metrics.Enabled)
}

func TestLoadEnvAliases(t *testing.T) {
	t.Setenv("GITHUB_REPOS", "3")
	t.Setenv("GITHUB_FOLLOWERS", "10")
	t.Setenv("GITHUB_FOLLOWING", "7")
	t.Setenv("VERIFY_CONTRIBUTION_URL", "https://verify.example.com")
	t.Setenv("BUCKET_POSTFIX", "-prod")

	path := writeConfig(t, "coordination:\n  base_url: http://localhost:8080\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Identity.Thresholds.MinRepos)
	require.Equal(t, 10, cfg.Identity.Thresholds.MinFollowers)
	require.Equal(t, 7, cfg.Identity.Thresholds.MinFollowing)
	require.Equal(t, "https://verify.example.com", cfg.Ceremony.VerifyURL)
	require.Equal(t, "-prod", cfg.Ceremony.BucketPostfix)
}

func TestLoadRejectsTinyPartSize(t *testing.T) {
	path := writeConfig(t, "storage:\n  part_size: 1024\n")

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "part_size")
}
