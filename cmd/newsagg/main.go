package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath  string
	sourcesPath string
	logLevel    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "newsagg",
		Short: "News aggregator for feeds and scraped sites",
		Long: `newsagg fetches articles from RSS/Atom feeds and scraped web sites,
folds duplicates reported by several sources into one article and stores
the result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to load .env: %w", err)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.newsagg/config.yaml)")
	flags.StringVar(&opts.sourcesPath, "sources", "", "YAML file of extra or overriding sources")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newRunCommand(opts),
		newServeCommand(opts),
		newSourcesCommand(opts),
		newArticlesCommand(opts),
	)
	return root
}
