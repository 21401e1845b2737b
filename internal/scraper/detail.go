package scraper

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-acquirer/internal/fetcher/headless"
	"github.com/JakeFAU/site-acquirer/internal/parser"
	"github.com/JakeFAU/site-acquirer/internal/site"
)

// enrich merges the first record parsed from each item's detail page into
// the item. Items whose detail page fails are kept as they are; items past
// max_pages are dropped.
func (r *Rendered) enrich(ctx context.Context, session headless.Session, cfg site.Config, items []parser.Record) []parser.Record {
	d := cfg.Scraper.DetailParser
	logger := r.logger.With(zap.String("site", cfg.Name))

	field := d.URLField
	if field == "" {
		field = detectURLField(items)
	}
	if field == "" {
		logger.Warn("no url field found for detail pages; skipping enrichment")
		return items
	}

	if d.MaxPages > 0 && d.MaxPages < len(items) {
		logger.Info("dropping items past detail max_pages",
			zap.Int("max_pages", d.MaxPages),
			zap.Int("dropped", len(items)-d.MaxPages),
		)
		items = items[:d.MaxPages]
	}
	detailParser := parser.Config{Type: d.ParserType, Options: d.ParserConfig}
	opts := renderOptions{waitFor: d.WaitFor}

	out := make([]parser.Record, 0, len(items))
	enriched, failed := 0, 0
	fetched := false
	for i, item := range items {
		detailURL, ok := resolveDetailURL(item, field, d.BaseURL)
		if !ok {
			logger.Debug("item has no usable detail url", zap.Int("index", i), zap.String("field", field))
			out = append(out, item)
			continue
		}
		if fetched {
			if err := r.sleep(ctx, d.DelayOrDefault()); err != nil {
				out = append(out, items[i:]...)
				break
			}
		}
		fetched = true

		detail, ok := r.scrapeDetail(ctx, session, cfg.Name, detailURL, detailParser, opts, logger)
		if !ok {
			failed++
			out = append(out, item)
			continue
		}
		out = append(out, mergeDetail(item, detail, d.FieldPrefix))
		enriched++
	}
	logger.Info("detail enrichment finished", zap.Int("enriched", enriched), zap.Int("failed", failed))
	return out
}

func (r *Rendered) scrapeDetail(
	ctx context.Context,
	session headless.Session,
	siteName, detailURL string,
	cfg parser.Config,
	opts renderOptions,
	logger *zap.Logger,
) (parser.Record, bool) {
	html := r.render(ctx, session, siteName, detailURL, opts)
	if html == "" {
		logger.Warn("no content from detail page", zap.String("url", detailURL))
		return nil, false
	}
	recordPage(ctx, r.recorder, r.logger, siteName, detailURL, html)
	records, err := r.parsers.Parse(ctx, html, cfg)
	if err != nil {
		logger.Error("parse detail page failed", zap.String("url", detailURL), zap.Error(err))
		return nil, false
	}
	if len(records) == 0 {
		logger.Warn("detail page yielded no data", zap.String("url", detailURL))
		return nil, false
	}
	return records[0], true
}

// detectURLField picks the link field from the first item: known names in
// priority order whose value looks like a URL, then any key naming a url or link.
func detectURLField(items []parser.Record) string {
	if len(items) == 0 {
		return ""
	}
	sample := items[0]
	for _, name := range parser.URLFields {
		if v, ok := sample[name].(string); ok && (strings.Contains(v, "http") || strings.Contains(v, "/")) {
			return name
		}
	}
	keys := make([]string, 0, len(sample))
	for k := range sample {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "url") || strings.Contains(lower, "link") {
			return k
		}
	}
	return ""
}

// resolveDetailURL returns an absolute URL for item[field]. Relative links
// need a base URL.
func resolveDetailURL(item parser.Record, field, baseURL string) (string, bool) {
	raw, ok := item[field].(string)
	if !ok || raw == "" {
		return "", false
	}
	if strings.HasPrefix(raw, "http") {
		return raw, true
	}
	if baseURL == "" {
		return "", false
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

func mergeDetail(item, detail parser.Record, prefix string) parser.Record {
	merged := make(parser.Record, len(item)+len(detail))
	for k, v := range item {
		merged[k] = v
	}
	for k, v := range detail {
		merged[prefix+k] = v
	}
	return merged
}
