// Package driver runs every registered source once and merges the results.
package driver

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pevans/newsagg/article"
	"github.com/pevans/newsagg/classify"
	"github.com/pevans/newsagg/dedup"
	"github.com/pevans/newsagg/ident"
	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/metrics"
	"github.com/pevans/newsagg/registry"
	"github.com/pevans/newsagg/source"
)

// Defaults.
const (
	DefaultConcurrency   = 8
	DefaultSourceTimeout = 60 * time.Second
	DefaultRunTimeout    = 10 * time.Minute
)

// Failure kinds beyond the ones source.KindName reports.
const (
	KindTimeout  = "timeout"
	KindCanceled = "canceled"
	KindInternal = "internal"
)

// RunKind is the identifier kind for aggregation runs.
type RunKind struct{}

// Namespace implements ident.Kind.
func (RunKind) Namespace() uuid.UUID {
	return uuid.MustParse("0b8e4f52-7a91-5c3d-8e6f-2d4a9c1b7e58")
}

// RunID identifies one aggregation run.
type RunID = ident.ID[RunKind]

// Config bounds a run.
type Config struct {
	// Concurrency is the number of sources fetched at once.
	Concurrency int `yaml:"concurrency"`
	// SourceTimeout bounds each source's fetch, login included.
	SourceTimeout time.Duration `yaml:"source_timeout"`
	// RunTimeout bounds the whole run. Zero means no bound.
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// DefaultConfig returns the default bounds.
func DefaultConfig() Config {
	return Config{
		Concurrency:   DefaultConcurrency,
		SourceTimeout: DefaultSourceTimeout,
		RunTimeout:    DefaultRunTimeout,
	}
}

// Failure describes why one source produced nothing.
type Failure struct {
	Source  string `json:"source"`
	Domain  string `json:"domain"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s: %s", f.Source, f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is one source's outcome in a run.
type Result struct {
	Source   string             `json:"source"`
	Domain   string             `json:"domain"`
	Kind     source.Kind        `json:"kind"`
	Articles []article.Article  `json:"-"`
	Skipped  []source.ItemError `json:"skipped,omitempty"`
	Failure  *Failure           `json:"failure,omitempty"`
	Duration time.Duration      `json:"duration"`
}

// OK reports whether the source succeeded.
func (r Result) OK() bool {
	return r.Failure == nil
}

// Report is the outcome of a run.
type Report struct {
	RunID      RunID     `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Results holds one entry per registered source, in registry order.
	Results []Result `json:"results"`
	// Articles are the deduplicated, tagged articles.
	Articles []article.Article `json:"articles"`
	Failures []Failure         `json:"failures"`
	// Duplicates counts articles folded into another.
	Duplicates int `json:"duplicates"`
}

// Succeeded returns the number of sources that succeeded.
func (r *Report) Succeeded() int {
	return len(r.Results) - len(r.Failures)
}

// Driver runs aggregations. It is safe for concurrent use.
type Driver struct {
	cfg     Config
	dedup   *dedup.Engine
	tagger  classify.Tagger
	log     logger.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithDeduplicator replaces the default deduplication engine.
func WithDeduplicator(e *dedup.Engine) Option {
	return func(d *Driver) { d.dedup = e }
}

// WithTagger tags every article of a run. Without one, articles keep the
// properties their source gave them.
func WithTagger(t classify.Tagger) Option {
	return func(d *Driver) { d.tagger = t }
}

// New returns a driver. Non-positive Concurrency and SourceTimeout take the
// defaults.
func New(cfg Config, opts ...Option) *Driver {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultSourceTimeout
	}
	if cfg.RunTimeout < 0 {
		cfg.RunTimeout = 0
	}

	d := &Driver{
		cfg:     cfg,
		dedup:   dedup.New(dedup.DefaultConfig()),
		log:     logger.NewNop(),
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run fetches every source in reg, at most Concurrency at a time. It never
// fails as a whole: each source gets exactly one Result, and failed sources
// are listed in Failures.
func (d *Driver) Run(ctx context.Context, reg *registry.Registry) *Report {
	report := &Report{
		RunID:     ident.Random[RunKind](),
		StartedAt: d.now(),
		Failures:  []Failure{},
	}
	log := d.log.With(logger.String("run_id", report.RunID.String()))

	runCtx := ctx
	if d.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.cfg.RunTimeout)
		defer cancel()
	}

	adapters := reg.Adapters()
	log.Info("Starting aggregation run",
		logger.Int("sources", len(adapters)),
		logger.Int("concurrency", d.cfg.Concurrency))

	results := make([]Result, len(adapters))
	sem := make(chan struct{}, d.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, a := range adapters {
		select {
		case sem <- struct{}{}:
		case <-runCtx.Done():
			results[i] = notStarted(a, runCtx.Err())
			d.observe(results[i])
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = d.fetch(runCtx, a, log)
		}()
	}
	wg.Wait()

	var union []article.Article
	for _, r := range results {
		if r.Failure != nil {
			report.Failures = append(report.Failures, *r.Failure)
			continue
		}
		union = append(union, r.Articles...)
	}

	deduped := d.dedup.Deduplicate(union)
	report.Duplicates = len(union) - len(deduped)
	report.Articles = d.tag(ctx, deduped, log)
	report.Results = results
	report.FinishedAt = d.now()

	elapsed := report.FinishedAt.Sub(report.StartedAt)
	d.metrics.ObserveRun(elapsed, len(report.Articles), report.Duplicates, len(report.Failures))
	log.Info("Aggregation run complete",
		logger.Int("sources", len(results)),
		logger.Int("failed", len(report.Failures)),
		logger.Int("articles", len(report.Articles)),
		logger.Int("duplicates", report.Duplicates),
		logger.Duration("elapsed", elapsed))

	return report
}

// fetch runs one adapter under its own timeout. An adapter that outlives
// its deadline is abandoned and recorded as timed out, and a batch that
// arrives after the deadline is discarded. Panics become internal failures.
func (d *Driver) fetch(runCtx context.Context, a source.Adapter, log logger.Logger) (result Result) {
	start := d.now()
	result = Result{Source: a.Name(), Domain: a.Domain(), Kind: a.Kind()}
	log = log.With(logger.String("source", a.Name()))
	defer func() {
		result.Duration = d.now().Sub(start)
		d.observe(result)
	}()

	ctx, cancel := context.WithTimeout(runCtx, d.cfg.SourceTimeout)
	defer cancel()

	done := make(chan fetched, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error("Source panicked",
					logger.String("panic", fmt.Sprint(p)),
					logger.String("stack", string(debug.Stack())))
				done <- fetched{err: fmt.Errorf("panic: %v", p), panicked: true}
			}
		}()
		batch, err := a.FetchArticles(ctx)
		done <- fetched{batch: batch, err: err}
	}()

	var out fetched
	select {
	case out = <-done:
	case <-ctx.Done():
		out = fetched{err: fmt.Errorf("source did not return: %w", ctx.Err())}
		log.Warn("Abandoning source past its deadline")
	}
	if out.err == nil && ctx.Err() != nil {
		out = fetched{err: fmt.Errorf("source returned after deadline: %w", ctx.Err())}
	}

	switch {
	case out.panicked:
		result.Failure = &Failure{
			Source: a.Name(), Domain: a.Domain(), Kind: KindInternal, Message: out.err.Error(), Err: out.err,
		}
		return result
	case out.err != nil:
		result.Failure = failure(ctx, runCtx, a, out.err)
		log.Warn("Source failed",
			logger.String("kind", result.Failure.Kind),
			logger.Error(out.err))
		return result
	}

	result.Articles = out.batch.Articles
	result.Skipped = out.batch.Skipped
	log.Info("Source fetched",
		logger.Int("articles", len(out.batch.Articles)),
		logger.Int("skipped", len(out.batch.Skipped)))
	return result
}

// fetched is what an adapter's FetchArticles handed back.
type fetched struct {
	batch    source.Batch
	err      error
	panicked bool
}

func (d *Driver) observe(r Result) {
	kind := ""
	if r.Failure != nil {
		kind = r.Failure.Kind
	}
	d.metrics.ObserveSource(r.Source, len(r.Articles), len(r.Skipped), r.Duration, kind)
}

// tag merges tagger properties into each article. A failed tag leaves the
// article as it was.
func (d *Driver) tag(ctx context.Context, articles []article.Article, log logger.Logger) []article.Article {
	if d.tagger == nil {
		return articles
	}

	out := make([]article.Article, len(articles))
	for i, a := range articles {
		props, err := d.tagger.Tag(ctx, a)
		if err != nil {
			log.Warn("Tagging failed",
				logger.String("article_id", a.ID.String()),
				logger.Error(err))
			out[i] = a
			continue
		}
		merged := a.Properties.Clone()
		if merged == nil {
			merged = make(article.Properties, len(props))
		}
		maps.Copy(merged, props)
		out[i] = a.WithProperties(merged)
	}
	return out
}

// failure classifies a source error. Deadlines of either the source or the
// run are timeouts, whatever the adapter wrapped them in.
func failure(ctx, runCtx context.Context, a source.Adapter, err error) *Failure {
	kind := source.KindName(err)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = KindTimeout
	case runCtx.Err() != nil:
		kind = ctxKind(runCtx.Err())
	}
	return &Failure{Source: a.Name(), Domain: a.Domain(), Kind: kind, Message: err.Error(), Err: err}
}

func notStarted(a source.Adapter, err error) Result {
	return Result{
		Source: a.Name(),
		Domain: a.Domain(),
		Kind:   a.Kind(),
		Failure: &Failure{
			Source:  a.Name(),
			Domain:  a.Domain(),
			Kind:    ctxKind(err),
			Message: "not started: " + err.Error(),
			Err:     err,
		},
	}
}

func ctxKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindCanceled
}
