package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pevans/newsagg/classify"
	"github.com/pevans/newsagg/config"
	"github.com/pevans/newsagg/dedup"
	"github.com/pevans/newsagg/driver"
	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/metrics"
	"github.com/pevans/newsagg/registry"
	"github.com/pevans/newsagg/session"
	"github.com/pevans/newsagg/source"
	"github.com/pevans/newsagg/store"
)

// system is everything a command needs, built from configuration with
// precedence flags > environment > config file > defaults.
type system struct {
	cfg      *config.Config
	log      logger.Logger
	gatherer *prometheus.Registry
	registry *registry.Registry
	driver   *driver.Driver
	// store is nil when the store is disabled.
	store *store.Store
}

func loadSystem(opts *globalOptions, noStore bool) (*system, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logger.Level = opts.logLevel
	}
	if opts.sourcesPath != "" {
		cfg.SourcesFile = opts.sourcesPath
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewPrometheus(promReg)

	client := source.NewClient(cfg.Client,
		source.WithRequestObserver(rec),
		source.WithClientLogger(log))
	sessions := session.NewStore(
		session.WithLogger(log),
		session.WithObserver(rec))

	reg, err := registry.Build(registry.Options{
		Client:       client,
		Sessions:     sessions,
		Logger:       log,
		SourcesFile:  cfg.SourcesFile,
		SkipBuiltins: cfg.SkipBuiltins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build source registry: %w", err)
	}

	sys := &system{
		cfg:      cfg,
		log:      log,
		gatherer: promReg,
		registry: reg,
		driver: driver.New(cfg.Driver,
			driver.WithLogger(log),
			driver.WithMetrics(rec),
			driver.WithDeduplicator(dedup.New(cfg.Dedup)),
			driver.WithTagger(classify.Default())),
	}

	if !noStore && !cfg.Store.Disabled {
		if sys.store, err = openStore(cfg.Store.Path); err != nil {
			return nil, err
		}
	}
	return sys, nil
}

func openStore(path string) (*store.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	return st, nil
}

func (s *system) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warn("Failed to close store", logger.Error(err))
		}
	}
	_ = s.log.Sync()
}
