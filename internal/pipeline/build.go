package pipeline

import (
	"errors"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TobiSchelling/NewsDesk/internal/collect"
	"github.com/TobiSchelling/NewsDesk/internal/config"
	"github.com/TobiSchelling/NewsDesk/internal/database"
	"github.com/TobiSchelling/NewsDesk/internal/enrich"
	"github.com/TobiSchelling/NewsDesk/internal/extract"
	"github.com/TobiSchelling/NewsDesk/internal/llm"
	"github.com/TobiSchelling/NewsDesk/internal/sink"
)

// Build wires an orchestrator from configuration. The returned function
// releases the cache and sink connections. A nil reg disables metrics.
func Build(cfg *config.Config, db *database.DB, reg prometheus.Registerer, log *slog.Logger) (*Orchestrator, func() error, error) {
	var closers []io.Closer

	var cache extract.Cache = extract.NopCache{}
	if cfg.Cache.RedisAddr != "" {
		rc, err := extract.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.TTL, log)
		if err != nil {
			log.Warn("content cache unavailable, continuing without it", "err", err)
		} else {
			cache = rc
			closers = append(closers, rc)
		}
	}

	deps := Deps{
		Store:     db,
		Fetcher:   collect.NewFeedFetcher(cfg.Ingest, log),
		Extractor: extract.New(cfg.Ingest, cache, log),
		Log:       log,
	}

	sinks, err := sink.FromConfig(cfg.Sinks, log)
	if err != nil {
		closeAll(closers)
		return nil, nil, err
	}
	if sinks.Len() > 0 {
		deps.Sink = sinks
		closers = append(closers, sinks)
	}

	if p := llm.CreateProvider(cfg.Enrichment, log); p != nil {
		deps.Enricher = enrich.NewLLMEnricher(p, cfg.Enrichment.MaxTokens)
	}
	if reg != nil {
		deps.Metrics = NewMetrics(reg)
	}

	return New(cfg.Ingest, deps), func() error { return closeAll(closers) }, nil
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
