package pipeline

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/site-acquirer/internal/crawler"
	"github.com/JakeFAU/site-acquirer/internal/hash/sha256"
	"github.com/JakeFAU/site-acquirer/internal/parser"
	"github.com/JakeFAU/site-acquirer/internal/site"
	"github.com/JakeFAU/site-acquirer/internal/store"
	"github.com/JakeFAU/site-acquirer/internal/transform"
	"github.com/JakeFAU/site-acquirer/internal/validate"
)

// checkConfig catches config errors that the document validator cannot see.
func checkConfig(cfg site.Config) error {
	if cfg.SeedHost() == "" {
		return fmt.Errorf("seed_url %q has no host", cfg.SeedURL)
	}
	if _, err := crawler.NewFilter(cfg.Crawler.URLPatterns, cfg.Crawler.ExcludePatterns); err != nil {
		return err
	}
	if _, err := crawler.ParseStrategy(cfg.Crawler.Strategy); err != nil {
		return err
	}
	return nil
}

func transformRecords(records []parser.Record, cfg site.Config) []parser.Record {
	return transform.Transform(records, cfg.Transformations)
}

func validateRecords(records []parser.Record, cfg site.Config) []validate.Issue {
	_, issues := validate.Validate(records, cfg.ValidationRules)
	return issues
}

// sourceURLs keys the records of one page. A single record takes the page
// URL. Several records take their own link when every record carries a
// distinct one in the same URL field; otherwise they get a 1-based #item-N
// suffix so each has its own row.
func sourceURLs(pageURL string, records []parser.Record) []string {
	urls := make([]string, len(records))
	if len(records) == 1 {
		urls[0] = pageURL
		return urls
	}
	if own := itemURLs(pageURL, records); own != nil {
		return own
	}
	for i := range urls {
		urls[i] = fmt.Sprintf("%s#item-%d", pageURL, i+1)
	}
	return urls
}

func itemURLs(pageURL string, records []parser.Record) []string {
	if len(records) == 0 {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	for _, field := range parser.URLFields {
		if urls := resolveField(base, records, field); urls != nil {
			return urls
		}
	}
	return nil
}

func resolveField(base *url.URL, records []parser.Record, field string) []string {
	urls := make([]string, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, record := range records {
		raw, ok := record[field].(string)
		if !ok || strings.TrimSpace(raw) == "" {
			return nil
		}
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil
		}
		resolved := base.ResolveReference(ref)
		if resolved.Host == "" {
			return nil
		}
		u := resolved.String()
		if _, dup := seen[u]; dup {
			return nil
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}

func newItem(job store.Job, sourceURL string, scrapedAt time.Time, record parser.Record) (store.ScrapedItem, error) {
	data := map[string]any(record)
	hash, err := sha256.HashRecord(data)
	if err != nil {
		return store.ScrapedItem{}, err
	}
	return store.ScrapedItem{
		JobID:     job.ID,
		SiteID:    job.SiteID,
		SourceURL: sourceURL,
		ScrapedAt: scrapedAt,
		DataHash:  hash,
		Data:      data,
	}, nil
}
