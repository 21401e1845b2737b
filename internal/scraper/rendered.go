package scraper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-acquirer/internal/fetcher/headless"
	"github.com/JakeFAU/site-acquirer/internal/parser"
	"github.com/JakeFAU/site-acquirer/internal/retry"
	"github.com/JakeFAU/site-acquirer/internal/site"
)

const (
	maxAutoScrolls  = 5
	autoScrollPause = 2 * time.Second
)

// Rendered scrapes script-rendered pages through a headless browser.
// Each Scrape call owns one browser session for the listing page, its
// pagination and its detail pages.
type Rendered struct {
	launcher headless.Launcher
	parsers  *parser.Registry
	retry    *retry.Policy
	recorder PageRecorder
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *zap.Logger
}

// NewRendered builds the spa strategy. recorder may be nil.
func NewRendered(launcher headless.Launcher, parsers *parser.Registry, policy *retry.Policy, recorder PageRecorder, logger *zap.Logger) *Rendered {
	if policy == nil {
		policy = retry.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rendered{
		launcher: launcher,
		parsers:  parsers,
		retry:    policy,
		recorder: recorder,
		sleep:    retry.Sleep,
		logger:   logger,
	}
}

type renderOptions struct {
	waitFor string
	scroll  bool
}

// Scrape implements Strategy.
func (r *Rendered) Scrape(ctx context.Context, cfg site.Config, url string) ([]parser.Record, error) {
	session, err := r.launcher.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser: %w", err)
	}
	defer session.Close()

	opts := renderOptions{
		waitFor: cfg.Scraper.WaitFor,
		scroll:  cfg.Scraper.Scroll && cfg.PaginationType() != site.PaginationScroll,
	}
	items := []parser.Record{}
	if html := r.render(ctx, session, cfg.Name, url, opts); html != "" {
		recordPage(ctx, r.recorder, r.logger, cfg.Name, url, html)
		records, err := r.parsers.Parse(ctx, html, parserConfig(cfg))
		if err != nil {
			return nil, err
		}
		items = append(items, records...)
	}

	items = append(items, r.paginate(ctx, session, cfg, opts)...)

	if cfg.Scraper.DetailParser != nil {
		items = r.enrich(ctx, session, cfg, items)
	}
	return items, nil
}

// render navigates and returns the page HTML, or "" once retries are exhausted.
func (r *Rendered) render(ctx context.Context, session headless.Session, siteName, url string, opts renderOptions) string {
	var html string
	err := r.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := session.Navigate(ctx, url); err != nil {
			r.logger.Warn("navigation attempt failed",
				zap.String("site", siteName),
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			return err
		}
		if opts.waitFor != "" {
			if err := session.WaitVisible(ctx, opts.waitFor); err != nil {
				return err
			}
		}
		if opts.scroll {
			if err := r.scrollPage(ctx, session); err != nil {
				return err
			}
		}
		content, err := session.HTML(ctx)
		if err != nil {
			return err
		}
		html = content
		return nil
	})
	if err != nil {
		r.logger.Error("render gave up", zap.String("site", siteName), zap.String("url", url), zap.Error(err))
		return ""
	}
	return html
}

// scrollPage scrolls to the bottom until the height stops growing, at most maxAutoScrolls times.
func (r *Rendered) scrollPage(ctx context.Context, session headless.Session) error {
	last, err := session.ScrollHeight(ctx)
	if err != nil {
		return err
	}
	for i := 0; i < maxAutoScrolls; i++ {
		if err := session.ScrollToBottom(ctx); err != nil {
			return err
		}
		if err := r.sleep(ctx, autoScrollPause); err != nil {
			return err
		}
		height, err := session.ScrollHeight(ctx)
		if err != nil {
			return err
		}
		if height == last {
			break
		}
		last = height
	}
	return nil
}
