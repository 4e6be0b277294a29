package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pevans/newsagg/store"
)

type articlesOptions struct {
	source string
	since  string
	flag   string
	limit  int
	offset int
	json   bool
}

func newArticlesCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "articles",
		Short: "Query stored articles",
	}

	opts := &articlesOptions{}
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored articles, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.filter(time.Now())
			if err != nil {
				return err
			}

			sys, err := loadSystem(global, false)
			if err != nil {
				return err
			}
			defer sys.Close()
			if sys.store == nil {
				return errors.New("the store is disabled")
			}

			articles, err := sys.store.ListArticles(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if opts.json {
				return printJSON(os.Stdout, articles)
			}
			printArticlesTable(os.Stdout, articles)
			return nil
		},
	}

	flags := list.Flags()
	flags.StringVar(&opts.source, "source", "", "only this source")
	flags.StringVar(&opts.since, "since", "", "published within this duration (24h, 7d, 2w) or since an RFC 3339 time")
	flags.StringVar(&opts.flag, "flag", "", "only articles with this property flag, such as is_ai_related")
	flags.IntVar(&opts.limit, "limit", 20, "maximum number of articles")
	flags.IntVar(&opts.offset, "offset", 0, "number of articles to skip")
	flags.BoolVar(&opts.json, "json", false, "print as JSON")

	cmd.AddCommand(list)
	return cmd
}

func (o *articlesOptions) filter(now time.Time) (store.ArticleFilter, error) {
	if o.limit < 1 {
		return store.ArticleFilter{}, fmt.Errorf("--limit must be positive, got %d", o.limit)
	}
	if o.offset < 0 {
		return store.ArticleFilter{}, fmt.Errorf("--offset must not be negative, got %d", o.offset)
	}

	filter := store.ArticleFilter{
		Source: o.source,
		Flag:   o.flag,
		Limit:  o.limit,
		Offset: o.offset,
	}
	if o.since != "" {
		if d, err := parseDuration(o.since); err == nil {
			filter.Since = now.Add(-d)
		} else if t, err := time.Parse(time.RFC3339, o.since); err == nil {
			filter.Since = t
		} else {
			return store.ArticleFilter{}, fmt.Errorf("invalid --since %q", o.since)
		}
	}
	return filter, nil
}
