package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"courier/internal/config"
	"courier/internal/logging"
)

var (
	banner = color.New(color.FgCyan, color.Bold).SprintFunc()
	dim    = color.New(color.FgHiBlack).SprintFunc()
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "courier",
		Short: "Slack to Claude Code bridge over a GitHub task queue",
		Long: "courier relays Slack requests to a Claude Code CLI running on the\n" +
			"operator's machine. Tasks travel through a shared GitHub repository,\n" +
			"so the machine needs no inbound network access.\n\n" +
			"Run `courier ingress` where Slack can reach you and `courier runner`\n" +
			"next to your workspace clone.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (default: ./courier.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newIngressCmd(opts))
	cmd.AddCommand(newRunnerCmd(opts))

	return cmd
}

// loadConfig resolves configuration for a subcommand and applies the
// global logging level before any component logger is created.
func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.verbose || cfg.Verbose {
		logging.SetDefaultLevel(logging.LevelDebug)
	}
	return cfg, nil
}

func printBanner(process, detail string) {
	fmt.Printf("%s %s\n", banner("courier"), process)
	if detail != "" {
		fmt.Println(dim(detail))
	}
}
