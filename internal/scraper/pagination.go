package scraper

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-acquirer/internal/fetcher/headless"
	"github.com/JakeFAU/site-acquirer/internal/parser"
	"github.com/JakeFAU/site-acquirer/internal/site"
)

// pageNumberToken is replaced by the page number in url_pattern pagination.
const pageNumberToken = "{page_num}"

// paginate collects records from pages after the first.
func (r *Rendered) paginate(ctx context.Context, session headless.Session, cfg site.Config, opts renderOptions) []parser.Record {
	p := cfg.Scraper.Pagination
	if p == nil {
		return nil
	}
	logger := r.logger.With(zap.String("site", cfg.Name), zap.String("pagination", p.Type))
	switch p.Type {
	case site.PaginationClick:
		return r.paginateClick(ctx, session, cfg, *p, logger)
	case site.PaginationScroll:
		return r.paginateScroll(ctx, session, cfg, *p, logger)
	case site.PaginationURLPattern:
		return r.paginateURLPattern(ctx, session, cfg, *p, opts, logger)
	case "":
		logger.Warn("pagination configured without a type")
	default:
		logger.Warn("unknown pagination type")
	}
	return nil
}

func (r *Rendered) paginateClick(ctx context.Context, session headless.Session, cfg site.Config, p site.Pagination, logger *zap.Logger) []parser.Record {
	if p.NextButtonSelector == "" {
		logger.Warn("click pagination requires next_button_selector")
		return nil
	}
	var items []parser.Record
	maxPages := p.MaxPagesOrDefault()
	for page := 2; page <= maxPages; page++ {
		result, err := session.Click(ctx, p.NextButtonSelector)
		if err != nil {
			logger.Error("click next failed", zap.Int("page", page), zap.Error(err))
			break
		}
		if result != headless.Clicked {
			logger.Info("no more pages", zap.Int("page", page))
			break
		}
		if err := r.sleep(ctx, p.DelayOrDefault()); err != nil {
			break
		}
		records, ok := r.parseCurrent(ctx, session, cfg, logger)
		if !ok {
			break
		}
		items = append(items, records...)
	}
	return items
}

// paginateScroll re-parses the whole page after each scroll; the iteration
// cap is the only stopping rule.
func (r *Rendered) paginateScroll(ctx context.Context, session headless.Session, cfg site.Config, p site.Pagination, logger *zap.Logger) []parser.Record {
	var items []parser.Record
	maxScrolls := p.MaxPagesOrDefault()
	for i := 0; i < maxScrolls; i++ {
		if err := r.scrollPage(ctx, session); err != nil {
			logger.Error("scroll failed", zap.Int("iteration", i+1), zap.Error(err))
			break
		}
		if err := r.sleep(ctx, p.DelayOrDefault()); err != nil {
			break
		}
		records, ok := r.parseCurrent(ctx, session, cfg, logger)
		if !ok {
			break
		}
		items = append(items, records...)
	}
	return items
}

func (r *Rendered) paginateURLPattern(
	ctx context.Context,
	session headless.Session,
	cfg site.Config,
	p site.Pagination,
	opts renderOptions,
	logger *zap.Logger,
) []parser.Record {
	if p.URLPattern == "" {
		logger.Warn("url_pattern pagination requires url_pattern")
		return nil
	}
	var items []parser.Record
	maxPages := p.MaxPagesOrDefault()
	for page := 2; page <= maxPages; page++ {
		next := strings.ReplaceAll(p.URLPattern, pageNumberToken, strconv.Itoa(page))
		html := r.render(ctx, session, cfg.Name, next, opts)
		if html == "" {
			logger.Info("no content for page", zap.String("url", next))
			break
		}
		recordPage(ctx, r.recorder, r.logger, cfg.Name, next, html)
		records, err := r.parsers.Parse(ctx, html, parserConfig(cfg))
		if err != nil {
			logger.Error("parse page failed", zap.String("url", next), zap.Error(err))
			break
		}
		items = append(items, records...)
	}
	return items
}

func (r *Rendered) parseCurrent(ctx context.Context, session headless.Session, cfg site.Config, logger *zap.Logger) ([]parser.Record, bool) {
	html, err := session.HTML(ctx)
	if err != nil {
		logger.Error("read page failed", zap.Error(err))
		return nil, false
	}
	records, err := r.parsers.Parse(ctx, html, parserConfig(cfg))
	if err != nil {
		logger.Error("parse page failed", zap.Error(err))
		return nil, false
	}
	return records, true
}
