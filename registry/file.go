package registry

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/scraper"
	"github.com/pevans/newsagg/session"
	"github.com/pevans/newsagg/source"
)

// File is the structure of a sources file.
type File struct {
	Sources []Definition `yaml:"sources"`
}

// Definition describes one source as data.
type Definition struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	// Strategy is feed, scrape or authenticated-scrape. Defaults to feed.
	Strategy string `yaml:"strategy,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
	MaxItems int    `yaml:"max_items,omitempty"`

	List    *scraper.ListConfig    `yaml:"list,omitempty"`
	Article *scraper.ArticleConfig `yaml:"article,omitempty"`
	// Exclude adds site-specific selectors stripped from article bodies.
	Exclude []string         `yaml:"exclude,omitempty"`
	Login   *LoginDefinition `yaml:"login,omitempty"`
}

// LoginDefinition configures a form login. Credentials are never stored in
// the file; they are read from the named environment variables.
type LoginDefinition struct {
	URL            string            `yaml:"url"`
	UsernameField  string            `yaml:"username_field"`
	PasswordField  string            `yaml:"password_field"`
	UsernameEnv    string            `yaml:"username_env"`
	PasswordEnv    string            `yaml:"password_env"`
	Extra          map[string]string `yaml:"extra,omitempty"`
	RequiredCookie string            `yaml:"required_cookie,omitempty"`
}

// Options supplies the shared collaborators every built adapter uses.
type Options struct {
	Client   *source.Client
	Sessions *session.Store
	Logger   logger.Logger
	// Getenv looks up login credentials. Defaults to os.Getenv.
	Getenv func(string) string

	// SourcesFile is an optional YAML sources file.
	SourcesFile string
	// SkipBuiltins leaves the built-in sites out of Build.
	SkipBuiltins bool
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = source.NewClient(source.ClientConfig{})
	}
	if o.Sessions == nil {
		o.Sessions = session.NewStore()
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	return o
}

// Load reads a sources file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}
	return &f, nil
}

// Default returns a registry of the built-in sites.
func Default(opts Options) (*Registry, error) {
	return FromDefinitions(Builtins(), opts)
}

// Build returns the built-in sites (unless skipped) merged with the sources
// file. A file entry replaces the built-in with the same name; a disabled
// entry removes it.
func Build(opts Options) (*Registry, error) {
	var defs []Definition
	if !opts.SkipBuiltins {
		defs = Builtins()
	}

	if opts.SourcesFile != "" {
		f, err := Load(opts.SourcesFile)
		if err != nil {
			return nil, err
		}
		defs = merge(defs, f.Sources)
	}

	return FromDefinitions(defs, opts)
}

func merge(base, overrides []Definition) []Definition {
	out := slices.Clone(base)
	for _, o := range overrides {
		i := slices.IndexFunc(out, func(d Definition) bool {
			return strings.EqualFold(d.Name, o.Name)
		})
		if i >= 0 {
			out[i] = o
		} else {
			out = append(out, o)
		}
	}
	return out
}

// FromDefinitions builds one adapter per enabled definition.
func FromDefinitions(defs []Definition, opts Options) (*Registry, error) {
	opts = opts.withDefaults()

	var adapters []source.Adapter
	var errs []error
	for _, def := range defs {
		if def.Disabled {
			continue
		}
		a, err := def.Build(opts)
		if errors.Is(err, ErrMissingCredentials) {
			opts.Logger.Warn("Skipping source without credentials",
				logger.String("source", def.Name),
				logger.Error(err))
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		adapters = append(adapters, a)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return New(adapters...)
}

// Build turns the definition into an adapter.
func (d Definition) Build(opts Options) (source.Adapter, error) {
	opts = opts.withDefaults()

	src, err := source.NewSource(d.Name, d.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}

	kind := source.KindFeed
	if d.Strategy != "" {
		if kind, err = source.ParseKind(d.Strategy); err != nil {
			return nil, fmt.Errorf("source %s: %w", d.Name, err)
		}
	}

	article := d.articleConfig()
	if article != nil {
		if err := article.Validate(); err != nil {
			return nil, fmt.Errorf("source %s: %w", d.Name, err)
		}
	}

	var strategy source.Strategy
	switch kind {
	case source.KindFeed:
		strategy = &source.Feed{Article: article, MaxItems: d.MaxItems}
	case source.KindScrape, source.KindAuthenticatedScrape:
		if d.List == nil {
			return nil, fmt.Errorf("source %s: scrape sources need a list config", d.Name)
		}
		if err := d.List.Validate(); err != nil {
			return nil, fmt.Errorf("source %s: %w", d.Name, err)
		}
		if article == nil {
			article = &scraper.ArticleConfig{}
		}
		strategy = &source.Scrape{List: *d.List, Article: *article, MaxItems: d.MaxItems}
	}

	siteOpts := []source.SiteOption{
		source.WithClient(opts.Client),
		source.WithLogger(opts.Logger),
	}

	if kind == source.KindAuthenticatedScrape && d.Login == nil {
		return nil, fmt.Errorf("source %s: authenticated-scrape needs a login config", d.Name)
	}
	if d.Login != nil {
		login, err := d.Login.formLogin(opts.Getenv)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", d.Name, err)
		}
		siteOpts = append(siteOpts, source.WithAuth(login, opts.Sessions))
	}

	return source.NewSite(src, strategy, siteOpts...)
}

func (d Definition) articleConfig() *scraper.ArticleConfig {
	if d.Article == nil && len(d.Exclude) == 0 {
		return nil
	}
	var cfg scraper.ArticleConfig
	if d.Article != nil {
		cfg = *d.Article
	}
	cfg.Exclude = append(slices.Clone(cfg.Exclude), d.Exclude...)
	cfg.FallbackSelectors = slices.Clone(cfg.FallbackSelectors)
	return &cfg
}

func (l *LoginDefinition) formLogin(getenv func(string) string) (*source.FormLogin, error) {
	if l.UsernameEnv == "" || l.PasswordEnv == "" {
		return nil, errors.New("login needs username_env and password_env")
	}
	username, password := getenv(l.UsernameEnv), getenv(l.PasswordEnv)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: set %s and %s", ErrMissingCredentials, l.UsernameEnv, l.PasswordEnv)
	}
	login := &source.FormLogin{
		LoginURL:       l.URL,
		UsernameField:  l.UsernameField,
		PasswordField:  l.PasswordField,
		Username:       username,
		Password:       password,
		Extra:          l.Extra,
		RequiredCookie: l.RequiredCookie,
	}
	if err := login.Validate(); err != nil {
		return nil, fmt.Errorf("login (%s, %s): %w", l.UsernameEnv, l.PasswordEnv, err)
	}
	return login, nil
}
