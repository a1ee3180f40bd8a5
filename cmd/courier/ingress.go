package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/go-github/v66/github"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"courier/internal/chat"
	"courier/internal/config"
	"courier/internal/dispatch"
	"courier/internal/ingress"
	"courier/internal/logging"
	"courier/internal/queue"
	"courier/internal/transcript"
)

func newIngressCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingress",
		Short: "Serve the Slack events endpoint and enqueue tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := cfg.ValidateIngress(); err != nil {
				return err
			}
			return runIngress(cmd, cfg, opts.verbose || cfg.Verbose)
		},
	}
}

func runIngress(cmd *cobra.Command, cfg config.Config, debug bool) error {
	logger := logging.NewComponentLogger("Ingress")
	printBanner("ingress", "listening on "+cfg.ListenAddr)

	store, err := newTaskStore(cfg)
	if err != nil {
		return err
	}

	slackClient := slack.New(cfg.SlackBotToken)
	messenger, err := chat.NewSlackMessenger(slackClient, logging.NewComponentLogger("Messenger"))
	if err != nil {
		return err
	}

	// Thread history needs the bot's own user id to tell its turns apart;
	// without one, threaded tasks simply enqueue without history.
	var contexts dispatch.ContextBuilder
	if cfg.BotUserID != "" {
		builder, err := transcript.NewBuilder(slackClient, cfg.BotUserID, cfg.ContextMaxTurns,
			logging.NewComponentLogger("Transcript"))
		if err != nil {
			return err
		}
		contexts = builder
	} else {
		logger.Warn("bot_user_id not configured, threaded requests will carry no history")
	}

	dispatcher, err := dispatch.New(store, messenger, contexts, logging.NewComponentLogger("Dispatch"))
	if err != nil {
		return err
	}

	server, err := ingress.NewServer(ingress.Config{
		ListenAddr:    cfg.ListenAddr,
		SigningSecret: cfg.SlackSigningSecret,
		ReplayWindow:  cfg.ReplayWindow,
		DedupSize:     cfg.DedupCacheSize,
		Debug:         debug,
	}, dispatcher, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx)
}

// newTaskStore builds the GitHub-backed queue both subcommands share.
func newTaskStore(cfg config.Config) (queue.Store, error) {
	owner, repo, err := cfg.SplitRepo()
	if err != nil {
		return nil, err
	}
	client := github.NewClient(nil).WithAuthToken(cfg.GitHubToken)
	store, err := queue.NewGitHubStore(client, owner, repo, cfg.GitHubBranch, cfg.TasksDir,
		logging.NewComponentLogger("Queue"))
	if err != nil {
		return nil, fmt.Errorf("create task store: %w", err)
	}
	return store, nil
}
