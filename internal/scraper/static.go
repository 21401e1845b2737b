package scraper

import (
	"context"

	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/site-acquirer/internal/fetcher/colly"
	"github.com/JakeFAU/site-acquirer/internal/parser"
	"github.com/JakeFAU/site-acquirer/internal/retry"
	"github.com/JakeFAU/site-acquirer/internal/site"
)

// BrowserUserAgent is sent by the static strategy.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Getter performs a single GET attempt.
type Getter interface {
	Get(ctx context.Context, url string) (collyfetcher.Response, error)
}

// Static scrapes server-rendered HTML.
type Static struct {
	getter   Getter
	parsers  *parser.Registry
	retry    *retry.Policy
	recorder PageRecorder
	logger   *zap.Logger
}

// NewStatic builds the html strategy. recorder may be nil.
func NewStatic(getter Getter, parsers *parser.Registry, policy *retry.Policy, recorder PageRecorder, logger *zap.Logger) *Static {
	if policy == nil {
		policy = retry.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Static{getter: getter, parsers: parsers, retry: policy, recorder: recorder, logger: logger}
}

// Scrape implements Strategy.
func (s *Static) Scrape(ctx context.Context, cfg site.Config, url string) ([]parser.Record, error) {
	content := s.fetch(ctx, cfg.Name, url)
	if content == "" {
		return []parser.Record{}, nil
	}
	recordPage(ctx, s.recorder, s.logger, cfg.Name, url, content)
	return s.parsers.Parse(ctx, content, parserConfig(cfg))
}

// fetch returns the page body, or "" once retries are exhausted.
func (s *Static) fetch(ctx context.Context, siteName, url string) string {
	var body string
	err := s.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		resp, err := s.getter.Get(ctx, url)
		if err != nil {
			s.logger.Warn("fetch attempt failed",
				zap.String("site", siteName),
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			return err
		}
		body = string(resp.Body)
		return nil
	})
	if err != nil {
		s.logger.Error("fetch gave up", zap.String("site", siteName), zap.String("url", url), zap.Error(err))
		return ""
	}
	return body
}
