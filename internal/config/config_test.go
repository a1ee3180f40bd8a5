package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validRunnerConfig() Config {
	cfg := Config{
		GitHubToken:     "ghp_test",
		GitHubRepo:      "acme/workspace",
		GitHubBranch:    DefaultGitHubBranch,
		TasksDir:        DefaultTasksDir,
		SlackBotToken:   "xoxb-test",
		WorkspaceDir:    "/tmp/workspace",
		ClaudeBin:       DefaultClaudeBin,
		PollInterval:    DefaultPollInterval,
		TaskTimeout:     DefaultTaskTimeout,
		ContextMaxTurns: DefaultContextTurns,
		MessageLimit:    DefaultMessageLimit,
	}
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, DefaultGitHubBranch, cfg.GitHubBranch)
	require.Equal(t, DefaultTasksDir, cfg.TasksDir)
	require.Equal(t, DefaultClaudeBin, cfg.ClaudeBin)
	require.Equal(t, DefaultPollInterval, cfg.PollInterval)
	require.Equal(t, DefaultTaskTimeout, cfg.TaskTimeout)
	require.Equal(t, DefaultContextTurns, cfg.ContextMaxTurns)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "courier.yaml")
	contents := strings.Join([]string{
		"github_repo: acme/from-file",
		"github_branch: develop",
		"poll_interval: 11s",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	t.Setenv("COURIER_GITHUB_REPO", "acme/from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "acme/from-env", cfg.GitHubRepo, "environment must win over file")
	require.Equal(t, "develop", cfg.GitHubBranch)
	require.Equal(t, 11*time.Second, cfg.PollInterval)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRunnerReportsAllMissingFields(t *testing.T) {
	cfg := validRunnerConfig()
	cfg.GitHubToken = ""
	cfg.WorkspaceDir = ""

	err := cfg.ValidateRunner()
	require.Error(t, err)
	require.Contains(t, err.Error(), "github_token")
	require.Contains(t, err.Error(), "workspace_dir")
}

func TestValidateRunnerRejectsBadRepo(t *testing.T) {
	cfg := validRunnerConfig()
	cfg.GitHubRepo = "not-a-repo"

	require.Error(t, cfg.ValidateRunner())
}

func TestValidateRunnerRejectsNonPositiveDurations(t *testing.T) {
	cfg := validRunnerConfig()
	cfg.PollInterval = 0
	require.Error(t, cfg.ValidateRunner())

	cfg = validRunnerConfig()
	cfg.TaskTimeout = -time.Second
	require.Error(t, cfg.ValidateRunner())
}

func TestValidateIngress(t *testing.T) {
	cfg := validRunnerConfig()
	cfg.SlackSigningSecret = "secret"
	cfg.ReplayWindow = DefaultReplayWindow
	cfg.DedupCacheSize = DefaultDedupCacheSize
	require.NoError(t, cfg.ValidateIngress())

	cfg.SlackSigningSecret = ""
	err := cfg.ValidateIngress()
	require.Error(t, err)
	require.Contains(t, err.Error(), "slack_signing_secret")
}

func TestSplitRepo(t *testing.T) {
	cfg := Config{GitHubRepo: "acme/workspace"}
	owner, name, err := cfg.SplitRepo()
	require.NoError(t, err)
	require.Equal(t, "acme", owner)
	require.Equal(t, "workspace", name)
}
