package registry

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/newsagg/session"
	"github.com/pevans/newsagg/source"
)

// TestDefault verifies every built-in source is well formed
func TestDefault(t *testing.T) {
	reg, err := Default(Options{})
	require.NoError(t, err)

	assert.Equal(t, len(Builtins()), reg.Len())
	for _, a := range reg.Adapters() {
		assert.NotEmpty(t, a.Name())
		assert.NotEmpty(t, a.Domain(), a.Name())
		u := a.SourceURL()
		require.NotNil(t, u, a.Name())
		assert.Contains(t, []string{"http", "https"}, u.Scheme, a.Name())
		assert.NotEmpty(t, u.Host, a.Name())
	}

	gigazine, ok := reg.Lookup("gigazine")
	require.True(t, ok)
	assert.Equal(t, "gigazine.net", gigazine.Domain())
	assert.Equal(t, source.KindFeed, gigazine.Kind())

	supership, ok := reg.Lookup("Supership")
	require.True(t, ok)
	assert.Equal(t, source.KindScrape, supership.Kind())

	_, ok = reg.Lookup("Zenn Topic - rust")
	assert.True(t, ok)
}

// TestBuiltins_FreshValues verifies callers can't corrupt the built-in list
func TestBuiltins_FreshValues(t *testing.T) {
	defs := Builtins()
	defs[0].Name = "changed"
	defs[0].Article.ContentSelector = "changed"

	again := Builtins()
	assert.Equal(t, "AI IT Now", again[0].Name)
	assert.NotEqual(t, "changed", again[0].Article.ContentSelector)
}

type stubAdapter struct {
	name, domain, rawURL string
}

func (s stubAdapter) Name() string { return s.name }

func (s stubAdapter) SourceURL() *url.URL {
	u, _ := url.Parse(s.rawURL)
	return u
}

func (s stubAdapter) Domain() string { return s.domain }

func (s stubAdapter) Kind() source.Kind { return source.KindFeed }

func (s stubAdapter) FetchArticles(context.Context) (source.Batch, error) {
	return source.Batch{}, nil
}

func (s stubAdapter) Login(context.Context) (*session.Session, error) { return nil, nil }

// TestNew_Validation verifies malformed and duplicate sources are rejected
func TestNew_Validation(t *testing.T) {
	good := stubAdapter{"A", "a.example.com", "https://a.example.com/feed"}

	_, err := New(good, stubAdapter{"a", "b.example.com", "https://b.example.com/feed"})
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = New(good, stubAdapter{" a ", "b.example.com", "https://b.example.com/feed"})
	assert.ErrorIs(t, err, ErrDuplicateName)

	reg, err := New(stubAdapter{" Padded ", "p.example.com", "https://p.example.com/feed"})
	require.NoError(t, err)
	_, ok := reg.Lookup("padded")
	assert.True(t, ok)
	sel, err := reg.Select("Padded")
	require.NoError(t, err)
	assert.Equal(t, 1, sel.Len())

	tests := []struct {
		name    string
		adapter source.Adapter
	}{
		{"empty name", stubAdapter{"", "a.example.com", "https://a.example.com/"}},
		{"empty domain", stubAdapter{"B", "", "https://a.example.com/"}},
		{"relative url", stubAdapter{"C", "a.example.com", "/feed"}},
		{"ftp url", stubAdapter{"D", "a.example.com", "ftp://a.example.com/feed"}},
		{"nil", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(good, tt.adapter)
			assert.ErrorIs(t, err, ErrInvalidSource)
		})
	}

	reg, err = New(good)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
}

// TestSelect verifies filtering by name keeps registration order
func TestSelect(t *testing.T) {
	reg, err := New(
		stubAdapter{"A", "a.example.com", "https://a.example.com/"},
		stubAdapter{"B", "b.example.com", "https://b.example.com/"},
		stubAdapter{"C", "c.example.com", "https://c.example.com/"},
	)
	require.NoError(t, err)

	sub, err := reg.Select("c", "A")
	require.NoError(t, err)
	require.Equal(t, 2, sub.Len())
	assert.Equal(t, "A", sub.Adapters()[0].Name())
	assert.Equal(t, "C", sub.Adapters()[1].Name())

	_, err = reg.Select("missing")
	assert.Error(t, err)
}

const sourcesYAML = `
sources:
  - name: Gigazine
    url: https://gigazine.net/news/rss_2.0/
    disabled: true
  - name: Rust Blog
    url: https://blog.rust-lang.org/feed.xml
    strategy: atom
  - name: Example News
    url: https://news.example.com/
    strategy: scrape
    max_items: 5
    list:
      item_selector: li.card
      title_selector: h2
      date_selector: time
      date_format: "2006-01-02"
    article:
      content_selector: div.body
    exclude:
      - .ad
  - name: Members
    url: https://members.example.com/news/
    strategy: authenticated-scrape
    list:
      item_selector: article
    login:
      url: https://members.example.com/login
      username_field: user
      password_field: pass
      username_env: MEMBERS_USER
      password_env: MEMBERS_PASS
`

func writeSources(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testEnv(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

// TestLoad verifies the sources file format
func TestLoad(t *testing.T) {
	f, err := Load(writeSources(t, sourcesYAML))
	require.NoError(t, err)
	require.Len(t, f.Sources, 4)

	scrape := f.Sources[2]
	assert.Equal(t, "scrape", scrape.Strategy)
	assert.Equal(t, 5, scrape.MaxItems)
	require.NotNil(t, scrape.List)
	assert.Equal(t, "li.card", scrape.List.ItemSelector)
	assert.Equal(t, "2006-01-02", scrape.List.DateFormat)
	assert.Equal(t, []string{".ad"}, scrape.Exclude)

	require.NotNil(t, f.Sources[3].Login)
	assert.Equal(t, "MEMBERS_USER", f.Sources[3].Login.UsernameEnv)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeSources(t, "sources: [unclosed"))
	assert.Error(t, err)
}

// TestBuild_MergesFile verifies file entries override, disable and extend
// the built-ins
func TestBuild_MergesFile(t *testing.T) {
	reg, err := Build(Options{
		SourcesFile: writeSources(t, sourcesYAML),
		Getenv:      testEnv(map[string]string{"MEMBERS_USER": "alice", "MEMBERS_PASS": "secret"}),
	})
	require.NoError(t, err)

	_, ok := reg.Lookup("Gigazine")
	assert.False(t, ok, "disabled entry removes the built-in")

	rust, ok := reg.Lookup("Rust Blog")
	require.True(t, ok)
	assert.Equal(t, "https://blog.rust-lang.org/feed.xml", rust.SourceURL().String())

	members, ok := reg.Lookup("Members")
	require.True(t, ok)
	assert.Equal(t, source.KindAuthenticatedScrape, members.Kind())

	assert.Equal(t, len(Builtins())-1+2, reg.Len())
}

// TestBuild_SkipBuiltins verifies only file sources are built
func TestBuild_SkipBuiltins(t *testing.T) {
	reg, err := Build(Options{
		SourcesFile:  writeSources(t, sourcesYAML),
		SkipBuiltins: true,
		Getenv:       testEnv(map[string]string{"MEMBERS_USER": "alice", "MEMBERS_PASS": "secret"}),
	})
	require.NoError(t, err)

	// Gigazine is disabled, the other three remain.
	assert.Equal(t, 3, reg.Len())
}

// TestBuild_MissingCredentials verifies a login source without its env
// vars is left out while the other sources still build
func TestBuild_MissingCredentials(t *testing.T) {
	reg, err := Build(Options{
		SourcesFile:  writeSources(t, sourcesYAML),
		SkipBuiltins: true,
		Getenv:       testEnv(map[string]string{"MEMBERS_USER": "alice"}),
	})
	require.NoError(t, err)

	_, ok := reg.Lookup("Members")
	assert.False(t, ok)
	assert.Equal(t, 2, reg.Len())

	f, err := Load(writeSources(t, sourcesYAML))
	require.NoError(t, err)
	_, err = f.Sources[3].Build(Options{Getenv: testEnv(nil)})
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.Contains(t, err.Error(), "Members")
}

// TestDefinitionBuild_Errors verifies invalid definitions are rejected
func TestDefinitionBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{"bad url", Definition{Name: "X", URL: "not a url"}},
		{"unknown strategy", Definition{Name: "X", URL: "https://x.example.com/", Strategy: "fax"}},
		{"scrape without list", Definition{Name: "X", URL: "https://x.example.com/", Strategy: "scrape"}},
		{"bad selector", Definition{Name: "X", URL: "https://x.example.com/", Exclude: []string{"div["}}},
		{"auth without login", Definition{
			Name: "X", URL: "https://x.example.com/", Strategy: "authenticated-scrape",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.def.Build(Options{})
			assert.Error(t, err)
		})
	}
}
