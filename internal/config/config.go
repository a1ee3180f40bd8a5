package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults applied before file and environment values.
const (
	DefaultGitHubBranch   = "main"
	DefaultTasksDir       = "tasks"
	DefaultClaudeBin      = "claude"
	DefaultListenAddr     = ":8080"
	DefaultPollInterval   = 5 * time.Second
	DefaultTaskTimeout    = 5 * time.Minute
	DefaultContextTurns   = 20
	DefaultMessageLimit   = 3900
	DefaultReplayWindow   = 5 * time.Minute
	DefaultDedupCacheSize = 512
)

// Config captures every operator-facing setting shared by both processes.
// Values load from an optional YAML file, then COURIER_* environment
// variables override (environment wins).
type Config struct {
	// GitHub task queue coordinates.
	GitHubToken  string `mapstructure:"github_token"`
	GitHubRepo   string `mapstructure:"github_repo"` // "owner/name"
	GitHubBranch string `mapstructure:"github_branch"`
	TasksDir     string `mapstructure:"tasks_dir"`

	// Slack credentials and identity.
	SlackBotToken      string `mapstructure:"slack_bot_token"`
	SlackSigningSecret string `mapstructure:"slack_signing_secret"`
	BotUserID          string `mapstructure:"bot_user_id"`

	// Ingress process.
	ListenAddr     string        `mapstructure:"listen_addr"`
	ReplayWindow   time.Duration `mapstructure:"replay_window"`
	DedupCacheSize int           `mapstructure:"dedup_cache_size"`

	// Runner process.
	WorkspaceDir string        `mapstructure:"workspace_dir"`
	ClaudeBin    string        `mapstructure:"claude_bin"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	TaskTimeout  time.Duration `mapstructure:"task_timeout"`
	MetricsAddr  string        `mapstructure:"metrics_addr"` // empty disables the listener

	// Shared behavior knobs.
	ContextMaxTurns int  `mapstructure:"context_max_turns"`
	MessageLimit    int  `mapstructure:"message_limit"`
	Verbose         bool `mapstructure:"verbose"`
}

// Load reads configuration from the optional file at path plus the
// environment. A missing file is only an error when the path was given
// explicitly.
func Load(path string) (Config, error) {
	v := viper.New()

	// Every key gets a default (empty for required fields) so AutomaticEnv
	// can surface COURIER_* variables through Unmarshal; viper only binds
	// env vars for keys it already knows about.
	v.SetDefault("github_token", "")
	v.SetDefault("github_repo", "")
	v.SetDefault("slack_bot_token", "")
	v.SetDefault("slack_signing_secret", "")
	v.SetDefault("bot_user_id", "")
	v.SetDefault("workspace_dir", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("verbose", false)
	v.SetDefault("github_branch", DefaultGitHubBranch)
	v.SetDefault("tasks_dir", DefaultTasksDir)
	v.SetDefault("claude_bin", DefaultClaudeBin)
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("task_timeout", DefaultTaskTimeout)
	v.SetDefault("context_max_turns", DefaultContextTurns)
	v.SetDefault("message_limit", DefaultMessageLimit)
	v.SetDefault("replay_window", DefaultReplayWindow)
	v.SetDefault("dedup_cache_size", DefaultDedupCacheSize)

	v.SetEnvPrefix("courier")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("courier")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.courier")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// SplitRepo returns the owner and repository name parts of GitHubRepo.
func (c Config) SplitRepo() (owner, name string, err error) {
	parts := strings.SplitN(c.GitHubRepo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("github_repo must be \"owner/name\", got %q", c.GitHubRepo)
	}
	return parts[0], parts[1], nil
}

// ValidateIngress checks everything the ingress process needs to start.
// Missing required values are a fatal startup error, never a silent default.
func (c Config) ValidateIngress() error {
	var missing []string
	if strings.TrimSpace(c.SlackSigningSecret) == "" {
		missing = append(missing, "slack_signing_secret")
	}
	if strings.TrimSpace(c.SlackBotToken) == "" {
		missing = append(missing, "slack_bot_token")
	}
	missing = append(missing, c.missingQueueFields()...)
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if _, _, err := c.SplitRepo(); err != nil {
		return err
	}
	if c.ReplayWindow <= 0 {
		return fmt.Errorf("replay_window must be positive, got %s", c.ReplayWindow)
	}
	if c.DedupCacheSize <= 0 {
		return fmt.Errorf("dedup_cache_size must be positive, got %d", c.DedupCacheSize)
	}
	return c.validateShared()
}

// ValidateRunner checks everything the runner process needs to start.
func (c Config) ValidateRunner() error {
	var missing []string
	if strings.TrimSpace(c.SlackBotToken) == "" {
		missing = append(missing, "slack_bot_token")
	}
	if strings.TrimSpace(c.WorkspaceDir) == "" {
		missing = append(missing, "workspace_dir")
	}
	missing = append(missing, c.missingQueueFields()...)
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if _, _, err := c.SplitRepo(); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout must be positive, got %s", c.TaskTimeout)
	}
	return c.validateShared()
}

func (c Config) missingQueueFields() []string {
	var missing []string
	if strings.TrimSpace(c.GitHubToken) == "" {
		missing = append(missing, "github_token")
	}
	if strings.TrimSpace(c.GitHubRepo) == "" {
		missing = append(missing, "github_repo")
	}
	return missing
}

func (c Config) validateShared() error {
	if c.ContextMaxTurns <= 0 {
		return fmt.Errorf("context_max_turns must be positive, got %d", c.ContextMaxTurns)
	}
	if c.MessageLimit <= 0 {
		return fmt.Errorf("message_limit must be positive, got %d", c.MessageLimit)
	}
	return nil
}
