package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"courier/internal/chat"
	"courier/internal/config"
	"courier/internal/executor"
	"courier/internal/logging"
	"courier/internal/metrics"
	"courier/internal/runner"
	"courier/internal/workspace"
)

func newRunnerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "runner",
		Short: "Poll the task queue and execute tasks locally",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := cfg.ValidateRunner(); err != nil {
				return err
			}
			return runRunner(cmd, cfg)
		},
	}
}

func runRunner(cmd *cobra.Command, cfg config.Config) error {
	logger := logging.NewComponentLogger("Runner")
	printBanner("runner", "workspace "+cfg.WorkspaceDir)

	store, err := newTaskStore(cfg)
	if err != nil {
		return err
	}

	messenger, err := chat.NewSlackMessenger(slack.New(cfg.SlackBotToken),
		logging.NewComponentLogger("Messenger"))
	if err != nil {
		return err
	}

	exec, err := executor.NewCLI(cfg.ClaudeBin, cfg.TaskTimeout, nil,
		logging.NewComponentLogger("Executor"))
	if err != nil {
		return err
	}

	sync, err := workspace.NewSynchronizer(cfg.WorkspaceDir, cfg.GitHubBranch,
		logging.NewComponentLogger("Workspace"))
	if err != nil {
		return err
	}

	r, err := runner.New(store, exec, messenger, sync, runner.Config{
		PollInterval: cfg.PollInterval,
		WorkspaceDir: cfg.WorkspaceDir,
		MessageLimit: cfg.MessageLimit,
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := r.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if cfg.MetricsAddr != "" {
		group.Go(func() error { return serveMetrics(ctx, cfg.MetricsAddr, logger) })
	}
	return group.Wait()
}

// serveMetrics exposes the prometheus scrape endpoint until ctx ends.
func serveMetrics(ctx context.Context, addr string, logger logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
