package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pevans/newsagg/article"
	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/service"
)

var errAllFailed = errors.New("every source failed")

type runOptions struct {
	json    bool
	newOnly bool
	noStore bool
}

func newRunCommand(global *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one aggregation and print the articles",
		Long: `Fetch every source once, fold duplicates, tag the articles and store
the run. Exits non-zero when every source failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := loadSystem(global, opts.noStore)
			if err != nil {
				return err
			}
			defer sys.Close()

			runner := service.New(sys.driver, sys.registry, service.WithLogger(sys.log))
			report, err := runner.RunOnce(cmd.Context())
			if err != nil {
				return err
			}

			articles := report.Articles
			if opts.newOnly && sys.store != nil {
				if articles, err = unseen(cmd, sys, articles); err != nil {
					return err
				}
			}

			if sys.store != nil {
				if err := sys.store.SaveRun(cmd.Context(), report); err != nil {
					return err
				}
			}

			shown := *report
			shown.Articles = articles
			if opts.json {
				if err := printJSON(os.Stdout, &shown); err != nil {
					return err
				}
			} else {
				printReport(os.Stdout, &shown)
			}

			if len(report.Results) > 0 && report.Succeeded() == 0 {
				return errAllFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&opts.newOnly, "new-only", false, "print only articles not stored by an earlier run")
	cmd.Flags().BoolVar(&opts.noStore, "no-store", false, "don't open or write the store")
	return cmd
}

// unseen drops articles an earlier run already stored.
func unseen(cmd *cobra.Command, sys *system, articles []article.Article) ([]article.Article, error) {
	ids := make([]article.ID, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
	}

	seen, err := sys.store.Seen(cmd.Context(), ids)
	if err != nil {
		return nil, fmt.Errorf("failed to check stored articles: %w", err)
	}

	out := make([]article.Article, 0, len(articles))
	for _, a := range articles {
		if !seen[a.ID] {
			out = append(out, a)
		}
	}
	sys.log.Debug("Filtered stored articles",
		logger.Int("fetched", len(articles)),
		logger.Int("new", len(out)))
	return out, nil
}
