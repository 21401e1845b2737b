package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-acquirer/internal/metrics"
)

// Page is a fetched document used for link discovery.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
}

// PageFetcher retrieves a page for link extraction.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// EmitFunc receives each URL as it is committed for fetching.
// Returning an error stops the crawl.
type EmitFunc func(ctx context.Context, url string) error

// Config bounds a crawl run.
type Config struct {
	// Site labels metrics and logs.
	Site     string
	MaxDepth int
	Strategy Strategy
}

// Stats summarizes a crawl run.
type Stats struct {
	Visited    int
	Discovered int
	Skipped    int
	Failed     int
}

// Engine runs the fetch/extract/enqueue loop for one site.
type Engine struct {
	cfg        Config
	filter     *Filter
	politeness *Politeness
	fetcher    PageFetcher
	logger     *zap.Logger
}

// NewEngine wires an engine; the filter and politeness controller are owned by this run.
// logger is expected to carry the site field already.
func NewEngine(cfg Config, filter *Filter, politeness *Politeness, fetcher PageFetcher, logger *zap.Logger) (*Engine, error) {
	if filter == nil {
		return nil, errors.New("filter is required")
	}
	if politeness == nil {
		return nil, errors.New("politeness controller is required")
	}
	if fetcher == nil {
		return nil, errors.New("page fetcher is required")
	}
	if cfg.Strategy == "" {
		cfg.Strategy = BreadthFirst
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		filter:     filter,
		politeness: politeness,
		fetcher:    fetcher,
		logger:     logger,
	}, nil
}

// Crawl walks outward from seeds until the frontier empties, ctx ends, or emit fails.
func (e *Engine) Crawl(ctx context.Context, seeds []string, emit EmitFunc) (Stats, error) {
	var stats Stats
	frontier := NewFrontier(e.cfg.Strategy)
	for _, seed := range seeds {
		frontier.Push(Entry{URL: StripFragment(seed), Depth: 0})
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("crawl interrupted: %w", err)
		}
		entry, ok := frontier.Pop()
		if !ok {
			return stats, nil
		}
		if !e.admit(ctx, entry) {
			stats.Skipped++
			continue
		}

		domain := Domain(entry.URL)
		if err := e.politeness.Throttle(ctx, domain); err != nil {
			return stats, err
		}
		if !e.filter.MarkVisited(entry.URL) {
			stats.Skipped++
			continue
		}
		stats.Visited++
		metrics.ObserveURLVisited(e.cfg.Site)
		e.logger.Info("crawling", zap.String("url", entry.URL), zap.Int("depth", entry.Depth))

		if emit != nil {
			if err := emit(ctx, entry.URL); err != nil {
				return stats, err
			}
		}

		page, err := e.fetcher.Fetch(ctx, entry.URL)
		if err != nil {
			stats.Failed++
			e.logger.Warn("fetch failed", zap.String("url", entry.URL), zap.Error(err))
			continue
		}
		base := page.URL
		if base == "" {
			base = entry.URL
		}
		links, err := ExtractLinks(base, page.Body)
		if err != nil {
			e.logger.Debug("link extraction failed", zap.String("url", entry.URL), zap.Error(err))
			continue
		}
		for _, link := range links {
			if !e.filter.IsValidAndNew(link) {
				continue
			}
			frontier.Push(Entry{URL: link, Depth: entry.Depth + 1})
			stats.Discovered++
			metrics.ObserveURLDiscovered(e.cfg.Site)
		}
	}
}

// admit runs the filter, depth, and robots gates for a dequeued entry.
func (e *Engine) admit(ctx context.Context, entry Entry) bool {
	if !e.filter.IsValidAndNew(entry.URL) {
		return false
	}
	if entry.Depth > e.cfg.MaxDepth {
		e.logger.Debug("max depth exceeded", zap.String("url", entry.URL), zap.Int("depth", entry.Depth))
		return false
	}
	if !e.politeness.CanFetch(ctx, Domain(entry.URL), entry.URL) {
		e.logger.Info("disallowed by robots.txt", zap.String("url", entry.URL))
		return false
	}
	return true
}
