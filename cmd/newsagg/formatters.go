package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/pevans/newsagg/article"
	"github.com/pevans/newsagg/driver"
	"github.com/pevans/newsagg/registry"
	"github.com/pevans/newsagg/source"
)

const titleWidth = 70

// printJSON prints v as indented JSON
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	return t
}

// printReport prints a run's articles followed by its per-source outcomes
func printReport(w io.Writer, r *driver.Report) {
	printArticlesTable(w, r.Articles)
	fmt.Fprintln(w)

	t := newTable(w)
	t.AppendHeader(table.Row{"Source", "Kind", "Articles", "Skipped", "Duration", "Error"})
	for _, res := range r.Results {
		errText := ""
		if res.Failure != nil {
			errText = res.Failure.Kind + ": " + truncate(res.Failure.Message, 60)
		}
		t.AppendRow(table.Row{res.Source, res.Kind, len(res.Articles), len(res.Skipped), res.Duration.Round(time.Millisecond), errText})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d/%d ok", r.Succeeded(), len(r.Results)),
		"",
		len(r.Articles),
		"",
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
		fmt.Sprintf("%d duplicates folded", r.Duplicates),
	})
	t.Render()
}

// printArticlesTable prints articles in a table
func printArticlesTable(w io.Writer, articles []article.Article) {
	if len(articles) == 0 {
		fmt.Fprintln(w, "No articles to display.")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Published", "Source", "Title", "Flags", "Dups"})
	for _, a := range articles {
		t.AppendRow(table.Row{
			a.PublishedAt.Local().Format("2006-01-02 15:04"),
			a.Source,
			truncate(a.Title, titleWidth),
			strings.Join(flags(a.Properties), " "),
			len(a.Duplicates),
		})
	}
	t.Render()
}

// sourceRow is one registered source as printed.
type sourceRow struct {
	Name   string      `json:"name"`
	Kind   source.Kind `json:"kind"`
	Domain string      `json:"domain"`
	URL    string      `json:"url"`
}

func sourceRows(reg *registry.Registry) []sourceRow {
	adapters := reg.Adapters()
	rows := make([]sourceRow, len(adapters))
	for i, a := range adapters {
		rows[i] = sourceRow{Name: a.Name(), Kind: a.Kind(), Domain: a.Domain(), URL: a.SourceURL().String()}
	}
	return rows
}

// printSourcesTable prints the registry in a table
func printSourcesTable(w io.Writer, reg *registry.Registry) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Name", "Kind", "Domain", "URL"})
	for _, r := range sourceRows(reg) {
		t.AppendRow(table.Row{r.Name, r.Kind, r.Domain, r.URL})
	}
	t.AppendFooter(table.Row{"Total", reg.Len(), "", ""})
	t.Render()
}

// flags returns the names of set boolean properties, without the is_ and
// _related decoration.
func flags(props article.Properties) []string {
	var out []string
	for name := range props {
		if strings.HasPrefix(name, "is_") && props.Flag(name) {
			out = append(out, strings.TrimSuffix(strings.TrimPrefix(name, "is_"), "_related"))
		}
	}
	slices.Sort(out)
	return out
}

// truncate shortens s to at most n runes
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
