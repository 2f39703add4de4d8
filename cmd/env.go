package main

import (
	"context"
	"time"

	"github.com/refcanvas/refcanvas-cli/internal/cascade"
	"github.com/refcanvas/refcanvas-cli/internal/config"
	"github.com/refcanvas/refcanvas-cli/internal/enrich"
	"github.com/refcanvas/refcanvas-cli/internal/query"
	"github.com/refcanvas/refcanvas-cli/internal/rank"
	"github.com/refcanvas/refcanvas-cli/internal/store"
	"github.com/refcanvas/refcanvas-cli/internal/validate"
	"github.com/refcanvas/refcanvas-cli/pkg/anthropic"
	"github.com/refcanvas/refcanvas-cli/pkg/search"
)

// env holds the wired pipeline for a command invocation.
type env struct {
	store       store.Store
	engine      *validate.Engine
	discoverer  *enrich.Discoverer
	relevance   *enrich.RelevanceWriter
	coordinator *cascade.Coordinator
}

// initCore opens the store and assembles the enrichment pipeline from
// configuration.
func initCore(ctx context.Context) (*env, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	completion := anthropic.NewClient(cfg.Anthropic.Key)

	var verifier validate.Verifier
	if cfg.Anthropic.Key != "" {
		verifier = validate.NewAIVerifier(completion, cfg.Anthropic.VerifyModel)
	}
	fetcher := validate.NewFetcher(validate.FetcherOptions{
		Timeout:      time.Duration(cfg.Validate.TimeoutSecs) * time.Second,
		MaxRedirects: cfg.Validate.MaxRedirects,
		MaxBodyBytes: cfg.Validate.MaxBodyBytes,
	})
	engine := validate.NewEngine(fetcher, verifier, cfg.Validate)

	builder, err := query.NewBuilder(cfg.Query)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	searcher := search.NewClient(cfg.Search.Key, cfg.Search.EngineID, searchOptions(cfg.Search)...)
	discoverer := enrich.NewDiscoverer(searcher, engine, builder, rank.NewRanker(cfg.Rank), cfg.Validate)

	relevance := enrich.NewRelevanceWriter(completion, cfg.Anthropic)

	return &env{
		store:       st,
		engine:      engine,
		discoverer:  discoverer,
		relevance:   relevance,
		coordinator: cascade.NewCoordinator(st, relevance, discoverer),
	}, nil
}

func searchOptions(sc config.SearchConfig) []search.Option {
	var opts []search.Option
	if sc.BaseURL != "" {
		opts = append(opts, search.WithBaseURL(sc.BaseURL))
	}
	return opts
}

func (e *env) Close() {
	e.store.Close() //nolint:errcheck
}
