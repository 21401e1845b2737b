// Package site defines per-site acquisition configuration and its loaders.
package site

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// ErrInvalidConfig wraps validation failures surfaced as a single error.
var ErrInvalidConfig = errors.New("invalid site config")

// Site types accepted by the validator.
const (
	TypeHTML  = "html"
	TypeSPA   = "spa"
	TypeAPI   = "api"
	TypePDF   = "pdf"
	TypeExcel = "excel"
)

// Pagination types understood by the rendered scraper.
const (
	PaginationClick      = "click"
	PaginationScroll     = "scroll"
	PaginationURLPattern = "url_pattern"
)

// DefaultMaxDepth is the crawl depth cutoff when neither the site nor the
// service config sets one.
const DefaultMaxDepth = 5

const (
	defaultPaginationMax  = 5
	defaultPaginationWait = 2 * time.Second
	defaultDetailDelay    = 2 * time.Second
)

// Config describes how to crawl, scrape, transform, and validate one site.
type Config struct {
	Name            string                    `mapstructure:"name" json:"name"`
	Type            string                    `mapstructure:"type" json:"type"`
	SeedURL         string                    `mapstructure:"seed_url" json:"seed_url"`
	ParserType      string                    `mapstructure:"parser_type" json:"parser_type"`
	ParserConfig    map[string]any            `mapstructure:"parser_config" json:"parser_config"`
	Crawler         CrawlerSettings           `mapstructure:"crawler_settings" json:"crawler_settings"`
	Scraper         ScraperSettings           `mapstructure:"scraper_settings" json:"scraper_settings"`
	Transformations map[string]FieldTransform `mapstructure:"transformations" json:"transformations,omitempty"`
	ValidationRules map[string]Rule           `mapstructure:"validation_rules" json:"validation_rules,omitempty"`

	// Path is the file the config was loaded from, if any.
	Path string `mapstructure:"-" json:"-"`
}

// CrawlerSettings bound URL discovery for the site.
type CrawlerSettings struct {
	URLPatterns     []string `mapstructure:"url_patterns" json:"url_patterns,omitempty"`
	ExcludePatterns []string `mapstructure:"exclude_patterns" json:"exclude_patterns,omitempty"`
	MaxDepth        *int     `mapstructure:"max_depth" json:"max_depth,omitempty"`
	Strategy        string   `mapstructure:"strategy" json:"strategy,omitempty"`
}

// ScraperSettings tune page fetching for rendered sites.
type ScraperSettings struct {
	WaitFor      string        `mapstructure:"wait_for" json:"wait_for,omitempty"`
	Scroll       bool          `mapstructure:"scroll" json:"scroll,omitempty"`
	Pagination   *Pagination   `mapstructure:"pagination" json:"pagination,omitempty"`
	DetailParser *DetailParser `mapstructure:"detail_parser" json:"detail_parser,omitempty"`
}

// Pagination selects and bounds the pagination state machine.
type Pagination struct {
	Type               string   `mapstructure:"type" json:"type"`
	NextButtonSelector string   `mapstructure:"next_button_selector" json:"next_button_selector,omitempty"`
	URLPattern         string   `mapstructure:"url_pattern" json:"url_pattern,omitempty"`
	MaxPages           int      `mapstructure:"max_pages" json:"max_pages,omitempty"`
	Delay              *float64 `mapstructure:"delay" json:"delay,omitempty"`
}

// DetailParser configures detail-page enrichment of listing records.
type DetailParser struct {
	URLField     string         `mapstructure:"url_field" json:"url_field,omitempty"`
	BaseURL      string         `mapstructure:"base_url" json:"base_url,omitempty"`
	FieldPrefix  string         `mapstructure:"field_prefix" json:"field_prefix,omitempty"`
	RateLimit    DetailRate     `mapstructure:"rate_limit" json:"rate_limit,omitempty"`
	MaxPages     int            `mapstructure:"max_pages" json:"max_pages,omitempty"`
	WaitFor      string         `mapstructure:"wait_for" json:"wait_for,omitempty"`
	ParserType   string         `mapstructure:"parser_type" json:"parser_type"`
	ParserConfig map[string]any `mapstructure:"parser_config" json:"parser_config"`
}

// DetailRate spaces detail-page fetches.
type DetailRate struct {
	Delay *float64 `mapstructure:"delay" json:"delay,omitempty"`
}

// FieldTransform maps a source field through an ordered list of steps.
type FieldTransform struct {
	SourceField string `mapstructure:"source_field" json:"source_field,omitempty"`
	Steps       []Step `mapstructure:"steps" json:"steps,omitempty"`
}

// Step is one transformation; exactly one of its fields is expected to be set.
type Step struct {
	Strip           *string  `mapstructure:"strip" json:"strip,omitempty"`
	Replace         *Replace `mapstructure:"replace" json:"replace,omitempty"`
	Convert         string   `mapstructure:"convert" json:"convert,omitempty"`
	CleanWhitespace bool     `mapstructure:"clean_whitespace" json:"clean_whitespace,omitempty"`
}

// Replace is a literal substring substitution.
type Replace struct {
	Old string `mapstructure:"old" json:"old"`
	New string `mapstructure:"new" json:"new"`
}

// Rule lists the checks applied to one field.
type Rule struct {
	Required  bool     `mapstructure:"required" json:"required,omitempty"`
	Type      string   `mapstructure:"type" json:"type,omitempty"`
	MinLength *int     `mapstructure:"min_length" json:"min_length,omitempty"`
	MaxLength *int     `mapstructure:"max_length" json:"max_length,omitempty"`
	MinValue  *float64 `mapstructure:"min_value" json:"min_value,omitempty"`
	MaxValue  *float64 `mapstructure:"max_value" json:"max_value,omitempty"`
	Regex     string   `mapstructure:"regex" json:"regex,omitempty"`
}

// Decode validates a raw config document and decodes it into a Config.
func Decode(raw map[string]any) (Config, error) {
	if ok, errs := Validate(raw); !ok {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return Config{}, fmt.Errorf("build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("decode site config: %w", err)
	}
	return cfg, nil
}

// MaxDepth returns the configured crawl depth cutoff.
func (c Config) MaxDepth() int {
	return c.MaxDepthOr(DefaultMaxDepth)
}

// MaxDepthOr returns the site's depth cutoff, or fallback when the site leaves it unset.
func (c Config) MaxDepthOr(fallback int) int {
	if c.Crawler.MaxDepth == nil {
		return fallback
	}
	return *c.Crawler.MaxDepth
}

// SeedHost returns the host of the seed URL used for domain matching.
func (c Config) SeedHost() string {
	u, err := url.Parse(c.SeedURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// PaginationType returns the configured pagination type or "".
func (c Config) PaginationType() string {
	if c.Scraper.Pagination == nil {
		return ""
	}
	return c.Scraper.Pagination.Type
}

// MaxPagesOrDefault bounds pagination; defaults to 5.
func (p Pagination) MaxPagesOrDefault() int {
	if p.MaxPages <= 0 {
		return defaultPaginationMax
	}
	return p.MaxPages
}

// DelayOrDefault is the pause after each pagination step; defaults to 2s.
func (p Pagination) DelayOrDefault() time.Duration {
	if p.Delay == nil {
		return defaultPaginationWait
	}
	return seconds(*p.Delay)
}

// DelayOrDefault is the pause between detail-page fetches; defaults to 2s.
func (d DetailParser) DelayOrDefault() time.Duration {
	if d.RateLimit.Delay == nil {
		return defaultDetailDelay
	}
	return seconds(*d.RateLimit.Delay)
}

func seconds(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
