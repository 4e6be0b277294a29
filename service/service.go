// Package service runs aggregations on demand and on a schedule, one at a
// time.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/pevans/newsagg/driver"
	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/registry"
)

// ErrRunning is returned when a run is requested while one is in progress.
var ErrRunning = errors.New("aggregation run already in progress")

// Sink receives every completed report.
type Sink interface {
	SaveRun(ctx context.Context, report *driver.Report) error
}

// Runner owns the registry and driver and serializes runs.
type Runner struct {
	driver   *driver.Driver
	registry *registry.Registry
	sink     Sink
	log      logger.Logger

	mu      sync.Mutex
	running bool
	last    *driver.Report

	// ctx is the parent of scheduled and triggered runs.
	ctx  context.Context
	cron *cron.Cron
	wg   sync.WaitGroup
}

// parser accepts five-field expressions and descriptors such as "@hourly".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Option configures a Runner.
type Option func(*Runner)

// WithSink stores every report.
func WithSink(s Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// New creates a runner.
func New(d *driver.Driver, reg *registry.Registry, opts ...Option) *Runner {
	r := &Runner{
		driver:   d,
		registry: reg,
		log:      logger.NewNop(),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cron = cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLogger{r.log})),
		cron.WithLogger(cronLogger{r.log}),
	)
	return r
}

// Registry returns the sources the runner aggregates.
func (r *Runner) Registry() *registry.Registry {
	return r.registry
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Last returns the most recent report, or nil before the first run.
func (r *Runner) Last() *driver.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// RunOnce runs one aggregation and hands the report to the sink. It returns
// ErrRunning without waiting when a run is in progress. A sink failure is
// returned together with the report.
func (r *Runner) RunOnce(ctx context.Context) (*driver.Report, error) {
	if !r.begin() {
		return nil, ErrRunning
	}
	return r.run(ctx)
}

// Trigger starts a run in the background and returns at once.
func (r *Runner) Trigger() error {
	if !r.begin() {
		return ErrRunning
	}

	ctx := r.parent()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.run(ctx); err != nil {
			r.log.Error("Triggered run failed", logger.Error(err))
		}
	}()
	return nil
}

func (r *Runner) parent() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}

func (r *Runner) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Runner) run(ctx context.Context) (*driver.Report, error) {
	report := r.driver.Run(ctx, r.registry)

	r.mu.Lock()
	r.last = report
	r.running = false
	r.mu.Unlock()

	if r.sink == nil {
		return report, nil
	}
	if err := r.sink.SaveRun(ctx, report); err != nil {
		return report, fmt.Errorf("failed to store run %s: %w", report.RunID, err)
	}
	return report, nil
}

// ValidateSchedule checks a cron expression.
func ValidateSchedule(expr string) error {
	_, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// Schedule adds a recurring run. Runs that come due while another is in
// progress are skipped.
func (r *Runner) Schedule(expr string) error {
	_, err := r.cron.AddFunc(expr, func() {
		report, err := r.RunOnce(r.parent())
		switch {
		case errors.Is(err, ErrRunning):
			r.log.Info("Skipping scheduled run, previous run still in progress")
		case err != nil:
			r.log.Error("Scheduled run failed", logger.Error(err))
		default:
			r.log.Info("Scheduled run complete",
				logger.String("run_id", report.RunID.String()),
				logger.Int("articles", len(report.Articles)))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// Start begins scheduled runs. ctx becomes the parent of every scheduled
// and triggered run.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	r.log.Info("Runner starting", logger.Int("schedules", len(r.cron.Entries())))
	r.cron.Start()
}

// Stop stops scheduling and waits for in-progress runs to complete.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.wg.Wait()
	r.log.Info("Runner stopped")
}

// cronLogger adapts Logger to cron's logging interface.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(fields(keysAndValues), logger.Error(err))...)
}

func fields(keysAndValues []any) []logger.Field {
	out := make([]logger.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, logger.String(fmt.Sprint(keysAndValues[i]), fmt.Sprint(keysAndValues[i+1])))
	}
	return out
}
