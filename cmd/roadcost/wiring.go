package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"roadsafety-cost/db/clickhouse"
	"roadsafety-cost/db/ingestion"
	"roadsafety-cost/db/sqlstore"
	"roadsafety-cost/decision/dimension"
	"roadsafety-cost/decision/narrative"
	"roadsafety-cost/decision/pricing"
	"roadsafety-cost/decision/pricing/catalog"
	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/llm"
	"roadsafety-cost/pkg/platform"
)

// priceStore is what the CLI needs from any store backend.
type priceStore interface {
	pricing.PriceStore
	ingestion.BulkStore
	List(ctx context.Context) ([]api.PriceRecord, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// openStore connects the configured backend and applies its schema. The
// "none" driver returns a nil store.
func openStore(ctx context.Context, cfg platform.Config) (priceStore, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "", "none":
		return nil, nil
	case "sqlite":
		return sqlstore.OpenSQLite(ctx, cfg.Store.DSN)
	case "postgres":
		return sqlstore.OpenPostgres(ctx, cfg.Store.DSN)
	case "clickhouse":
		store, err := clickhouse.NewStore(&clickhouse.Config{
			Host:     cfg.ClickHouse.Host,
			Port:     cfg.ClickHouse.Port,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		})
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// deps are the long-lived components behind estimate and lookup.
type deps struct {
	resolver *pricing.Resolver
	narrator narrative.Narrator
	metrics  *platform.Metrics
	closers  []func() error
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

// wire builds the price cascade from configuration.
func wire(ctx context.Context, cfg platform.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{metrics: platform.NewMetrics()}
	policy := d.metrics.Instrument(cfg.Retry.Policy())
	policy.Logger = logger

	opts := []pricing.Option{
		pricing.WithMetrics(d.metrics),
		pricing.WithLogger(logger),
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open price store: %w", err)
	}
	var reference []api.PriceRecord
	if store != nil {
		d.closers = append(d.closers, store.Close)
		opts = append(opts, pricing.WithStore(store))
		if reference, err = store.List(ctx); err != nil {
			d.Close()
			return nil, err
		}
	}

	if cfg.Reference.Path != "" {
		loader := ingestion.NewLoader(ingestion.LoaderOptions{Region: cfg.Reference.Region, Logger: logger})
		res, err := loader.Load(ctx, cfg.Reference.Path)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to load reference prices: %w", err)
		}
		reference = append(reference, res.Records...)
	}
	if len(reference) > 0 {
		opts = append(opts, pricing.WithReference(pricing.NewReferenceDataset(reference)))
	}

	sources, err := liveSources(cfg, policy, logger)
	if err != nil {
		d.Close()
		return nil, err
	}
	opts = append(opts, pricing.WithLiveSources(sources...))

	var estimator pricing.Estimator = pricing.RuleEstimator{}
	d.narrator = narrative.Template{}
	if cfg.Gemini.APIKey != "" {
		gen, err := llm.NewGeminiClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, policy)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, gen.Close)
		estimator = pricing.NewChainEstimator(logger, pricing.NewAIEstimator(gen, logger), pricing.RuleEstimator{})
		d.narrator = narrative.NewAINarrator(gen, logger)
	}
	opts = append(opts, pricing.WithEstimator(estimator))

	d.resolver = pricing.NewResolver(pricing.NewMemoryCache(cfg.Pipeline.CacheTTL), opts...)
	return d, nil
}

func liveSources(cfg platform.Config, policy platform.RetryPolicy, logger *slog.Logger) ([]pricing.LiveSource, error) {
	client := platform.NewHTTPClient(policy, cfg.Catalog.Timeout)
	var sources []pricing.LiveSource
	for _, s := range []struct {
		url string
		new func(catalog.Options) (*catalog.Source, error)
	}{
		{cfg.Catalog.GeMURL, catalog.NewGeM},
		{cfg.Catalog.CPWDURL, catalog.NewCPWD},
	} {
		if s.url == "" {
			continue
		}
		src, err := s.new(catalog.Options{
			BaseURL:       s.url,
			RatePerSecond: cfg.Catalog.RatePerSecond,
			Client:        client,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// categoryFlag maps a --category value, accepting either a category name
// or free text that mentions one.
func categoryFlag(s string) api.Category {
	if s == "" {
		return api.CategoryUnknown
	}
	c := dimension.Classify("", s)
	if c == api.CategoryUnknown {
		c = api.Category(strings.ToLower(s))
	}
	return c
}

var errNoStore = errors.New("no price store configured")
