// Package scraper routes a site's pages to the fetch strategy for its type.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-acquirer/internal/metrics"
	"github.com/JakeFAU/site-acquirer/internal/parser"
	"github.com/JakeFAU/site-acquirer/internal/site"
)

// ErrUnknownSiteType is returned when no strategy serves a site type.
var ErrUnknownSiteType = errors.New("no scraper registered for site type")

// Strategy fetches one URL and parses it with the site's parser config.
type Strategy interface {
	Scrape(ctx context.Context, cfg site.Config, url string) ([]parser.Record, error)
}

// PageRecorder receives every fetched document, e.g. to archive it.
type PageRecorder interface {
	RecordPage(ctx context.Context, siteName, url string, body []byte) error
}

// Router dispatches by site type.
type Router struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	logger     *zap.Logger
}

// NewRouter returns an empty router.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{strategies: make(map[string]Strategy), logger: logger}
}

// Register binds a strategy to a site type.
func (r *Router) Register(siteType string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[siteType] = s
}

// ScrapeSite scrapes url with the strategy for cfg.Type.
// Strategy failures are logged and yield an empty result so one bad page
// does not stop a run; only routing failures are returned.
func (r *Router) ScrapeSite(ctx context.Context, cfg site.Config, url string) ([]parser.Record, error) {
	if cfg.Type == "" {
		return nil, errors.New("site configuration must specify a type")
	}
	r.mu.RLock()
	strategy, ok := r.strategies[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSiteType, cfg.Type)
	}

	start := time.Now()
	records, err := strategy.Scrape(ctx, cfg, url)
	if err != nil {
		r.logger.Error("scrape failed",
			zap.String("site", cfg.Name),
			zap.String("type", cfg.Type),
			zap.String("url", url),
			zap.Error(err),
		)
		metrics.ObserveScrape(cfg.Name, cfg.Type, "error", time.Since(start), 0)
		return []parser.Record{}, nil
	}
	if records == nil {
		records = []parser.Record{}
	}
	metrics.ObserveScrape(cfg.Name, cfg.Type, "success", time.Since(start), len(records))
	return records, nil
}

func parserConfig(cfg site.Config) parser.Config {
	return parser.Config{Type: cfg.ParserType, Options: cfg.ParserConfig}
}

func recordPage(ctx context.Context, rec PageRecorder, logger *zap.Logger, siteName, url, body string) {
	if rec == nil || body == "" {
		return
	}
	if err := rec.RecordPage(ctx, siteName, url, []byte(body)); err != nil {
		logger.Warn("archive page failed", zap.String("site", siteName), zap.String("url", url), zap.Error(err))
	}
}
