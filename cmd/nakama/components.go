package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/nakama/internal/booklet"
	"github.com/hyperjump/nakama/internal/config"
	"github.com/hyperjump/nakama/internal/ingest"
	"github.com/hyperjump/nakama/internal/llm"
	"github.com/hyperjump/nakama/internal/matcher"
	"github.com/hyperjump/nakama/internal/region"
	"github.com/hyperjump/nakama/internal/search"
	"github.com/hyperjump/nakama/internal/storage"
)

// Components holds initialized services.
type Components struct {
	Storage  storage.Storage
	Regions  *region.Table
	Engine   *search.Engine
	LLM      llm.Client
	Booklets *booklet.Generator
	Cache    *booklet.RedisCache
	Ingest   *ingest.Pipeline
}

// Close releases the store and the booklet cache.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
}

// loadRegions returns the built-in region table merged with the configured file, if any.
func loadRegions(cfg *config.SearchConfig) (*region.Table, error) {
	table := region.Default()
	if cfg.RegionTablePath == "" {
		return table, nil
	}
	extra, err := region.Load(cfg.RegionTablePath)
	if err != nil {
		return nil, err
	}
	return table.Merge(extra), nil
}

// newMatcher builds the profile matcher from the search settings.
func newMatcher(cfg *config.SearchConfig, regions *region.Table) (*matcher.Matcher, error) {
	mode, err := matcher.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	sources, err := matcher.ParseSources(cfg.Sources)
	if err != nil {
		return nil, err
	}
	if !cfg.RegionExpansionOrDefault() {
		regions = nil
	}
	return matcher.New(
		matcher.WithMode(mode),
		matcher.WithSources(sources),
		matcher.WithRegions(regions),
	), nil
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Storage: store}

	regions, err := loadRegions(&cfg.Search)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to load region table: %w", err)
	}
	c.Regions = regions

	m, err := newMatcher(&cfg.Search, regions)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("invalid search config: %w", err)
	}
	c.Engine = search.NewEngine(store, m,
		search.WithLogger(logger),
		search.WithStorePrefilter(cfg.Search.StorePrefilter),
	)

	client, err := llm.New(cfg.LLM, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize llm client: %w", err)
	}
	c.LLM = client

	bookletOpts := []booklet.Option{
		booklet.WithTimeout(cfg.BookletTimeout()),
		booklet.WithLogger(logger),
	}
	if cfg.Cache.RedisAddr != "" {
		cache, err := booklet.NewRedisCache(ctx, cfg.Cache)
		if err != nil {
			// Booklets still work without the cache.
			logger.Warn("booklet cache unavailable", zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
		} else {
			c.Cache = cache
			bookletOpts = append(bookletOpts, booklet.WithCache(cache, cfg.Booklet.CacheTTL))
		}
	}
	c.Booklets = booklet.NewGenerator(client, bookletOpts...)

	c.Ingest = ingest.NewPipeline(store, client,
		ingest.WithTargetFileNames(cfg.Ingest.TargetFileNames),
		ingest.WithLogger(logger),
	)
	return c, nil
}
