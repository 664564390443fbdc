package main

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tbracken/stratum/internal/cache"
	"github.com/tbracken/stratum/internal/governor"
	"github.com/tbracken/stratum/internal/router"
	"github.com/tbracken/stratum/internal/store"
)

// openStore opens the configured database, applying pending migrations.
// Returns nil when persistence is disabled.
func openStore() (*store.Store, error) {
	if !cfg.Storage.Enabled {
		return nil, nil
	}

	path := cfg.Storage.Path
	if path == "" {
		path = store.DefaultPath()
	}

	s, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// buildRouter creates a router, rehydrating its performance table from
// the store when one is available.
func buildRouter(s *store.Store) (*router.Router, error) {
	perf := router.NewPerformanceTable()
	if s != nil {
		rates, err := s.LoadPerformance()
		if err != nil {
			if cfg.Storage.Strict {
				return nil, fmt.Errorf("load performance history: %w", err)
			}
			log.Warn().Err(err).Msg("performance history restore failed, starting empty")
		} else {
			perf.Restore(rates)
		}
	}
	return router.NewWithTable(perf), nil
}

// buildGovernor wires the router and governor against the store.
func buildGovernor(s *store.Store) (*governor.Governor, *router.Router, error) {
	rt, err := buildRouter(s)
	if err != nil {
		return nil, nil, err
	}

	gcfg := governor.Config{
		Limits:            cfg.Budget.Limits(),
		Router:            rt,
		StrictPersistence: cfg.Storage.Strict,
	}
	if s != nil {
		gcfg.Store = s
	}

	g, err := governor.New(gcfg)
	if err != nil {
		return nil, nil, err
	}
	return g, rt, nil
}

// buildCache constructs the cache manager. No embedder is wired here, so
// the semantic layer holds entries but never matches; embedding is an
// injected capability of the hosting platform.
func buildCache(s *store.Store) (*cache.Manager, error) {
	ccfg := cache.Config{
		StrictPersistence:   cfg.Storage.Strict,
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		MinPrefixTokens:     cfg.Cache.MinPrefixTokens,
		L1TTL:               cfg.Cache.L1TTL,
		L2TTL:               cfg.Cache.L2TTL,
		L3TTL:               cfg.Cache.L3TTL,
		MaxTTL:              cfg.Cache.MaxTTL,
		CostPerToken:        cfg.Cache.CostPerToken,
	}
	if s != nil {
		ccfg.Store = s
	}
	return cache.NewManager(ccfg)
}

// savePerformance snapshots the router's performance table into the store.
func savePerformance(s *store.Store, rt *router.Router) {
	if s == nil {
		return
	}
	if err := s.SavePerformance(rt.Performance().Snapshot()); err != nil {
		log.Warn().Err(err).Msg("performance history not persisted")
	}
}
