package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/newsagg/article"
	"github.com/pevans/newsagg/driver"
)

// TestParseDuration verifies day and week suffixes
func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"90m", 90 * time.Minute, false},
		{"3d", 72 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"1.5d", 0, true},
		{"d", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestArticlesFilter verifies flag values become a store filter
func TestArticlesFilter(t *testing.T) {
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	f, err := (&articlesOptions{source: "Zenn", since: "7d", flag: "is_ai_related", limit: 5, offset: 10}).filter(now)
	require.NoError(t, err)
	assert.Equal(t, "Zenn", f.Source)
	assert.Equal(t, now.Add(-7*24*time.Hour), f.Since)
	assert.Equal(t, "is_ai_related", f.Flag)
	assert.Equal(t, 5, f.Limit)
	assert.Equal(t, 10, f.Offset)

	f, err = (&articlesOptions{since: "2025-03-01T00:00:00Z", limit: 1}).filter(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), f.Since)

	for _, bad := range []articlesOptions{{limit: 0}, {limit: 1, offset: -1}, {limit: 1, since: "last tuesday"}} {
		_, err := bad.filter(now)
		assert.Error(t, err)
	}
}

// TestTruncate verifies rune-safe truncation
func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "生成AI...", truncate("生成AIの最新動向を解説", 7))
}

// TestFlags verifies only set boolean properties are listed
func TestFlags(t *testing.T) {
	props := article.Properties{
		"is_security_related": 1,
		"is_ai_related":       1,
		"is_it_related":       0,
		"ai":                  0.66,
	}
	assert.Equal(t, []string{"ai", "security"}, flags(props))
	assert.Empty(t, flags(nil))
}

// TestPrintReport verifies the table lists articles and failed sources,
// with the summary row printed as written
func TestPrintReport(t *testing.T) {
	a, err := article.New(article.Fields{
		Source:      "Gigazine",
		URL:         "https://gigazine.net/news/1",
		Title:       "OpenAI releases GPT-5",
		PublishedAt: time.Now(),
	})
	require.NoError(t, err)

	start := time.Now()
	report := &driver.Report{
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Articles:   []article.Article{a.WithProperties(article.Properties{"is_ai_related": 1})},
		Results: []driver.Result{
			{Source: "Gigazine", Articles: []article.Article{a}},
			{Source: "Broken", Failure: &driver.Failure{Source: "Broken", Kind: "network", Message: "connection refused"}},
		},
		Failures:   []driver.Failure{{Source: "Broken", Kind: "network", Message: "connection refused"}},
		Duplicates: 1,
	}

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "OpenAI releases GPT-5")
	assert.Contains(t, out, "network: connection refused")
	assert.Contains(t, out, "1/2 ok")
	assert.Contains(t, out, "1 duplicates folded")
	assert.Contains(t, out, "2s")
	assert.NotContains(t, out, "DUPLICATES")
	assert.Contains(t, out, "ai")
}

// TestPrintArticlesTable_Empty verifies the empty message
func TestPrintArticlesTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	printArticlesTable(&buf, nil)
	assert.Equal(t, "No articles to display.\n", buf.String())
}

// TestSourcesList verifies the command lists sources from a sources file
// alone
func TestSourcesList(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)

	sources := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(sources, []byte(`sources:
  - name: Example Feed
    url: https://feeds.example.com/rss
    strategy: feed
`), 0o600))
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("skip_builtins: true\nlogger:\n  level: error\n"), 0o600))

	root := newRootCommand()
	root.SetArgs([]string{"--config", cfg, "--sources", sources, "sources", "list", "--json"})

	stdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	runErr := root.Execute()
	w.Close()
	os.Stdout = stdout
	require.NoError(t, runErr)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, `"name": "Example Feed"`)
	assert.Contains(t, out, `"domain": "feeds.example.com"`)
	assert.Equal(t, 1, strings.Count(out, `"name"`))
}

// TestRootCommand verifies the command tree
func TestRootCommand(t *testing.T) {
	root := newRootCommand()

	for _, path := range [][]string{{"run"}, {"serve"}, {"sources", "list"}, {"articles", "list"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	for _, flag := range []string{"config", "sources", "log-level"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
	run, _, _ := root.Find([]string{"run"})
	for _, flag := range []string{"json", "new-only", "no-store"} {
		assert.NotNil(t, run.Flags().Lookup(flag), flag)
	}
}
