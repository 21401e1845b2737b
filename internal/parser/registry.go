// Package parser turns fetched documents into records using pluggable strategies.
package parser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Record is one extracted item keyed by field name.
type Record map[string]any

// URLFields lists record fields that commonly hold an item's own link, in
// the order they are preferred.
var URLFields = []string{
	"url", "listing_url", "product_url", "video_url", "article_url",
	"link", "href", "detail_url", "page_url", "item_url",
}

// Config selects a strategy and carries its options.
type Config struct {
	Type    string
	Options map[string]any
}

// Parser extracts records from content.
type Parser interface {
	Parse(ctx context.Context, content string, options map[string]any) ([]Record, error)
}

// Func adapts a function to Parser.
type Func func(ctx context.Context, content string, options map[string]any) ([]Record, error)

// Parse calls f.
func (f Func) Parse(ctx context.Context, content string, options map[string]any) ([]Record, error) {
	return f(ctx, content, options)
}

// ErrUnknownParser is returned when no strategy is registered for a type.
var ErrUnknownParser = errors.New("unknown parser type")

// Registry maps parser types to strategies.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register binds a strategy to a type, replacing any previous binding.
func (r *Registry) Register(parserType string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[parserType] = p
}

// Types lists registered types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.parsers))
	for t := range r.parsers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Parse dispatches content to the strategy registered for cfg.Type.
func (r *Registry) Parse(ctx context.Context, content string, cfg Config) ([]Record, error) {
	if cfg.Type == "" {
		return nil, errors.New("parser type must be specified")
	}
	r.mu.RLock()
	p, ok := r.parsers[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParser, cfg.Type)
	}
	records, err := p.Parse(ctx, content, cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("parse with %s: %w", cfg.Type, err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

func stringOption(options map[string]any, key string) (string, error) {
	raw, ok := options[key]
	if !ok {
		return "", fmt.Errorf("missing %q option", key)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("option %q must be a non-empty string", key)
	}
	return s, nil
}

// fieldOptions returns the field -> expression map in sorted field order.
func fieldOptions(options map[string]any) ([]string, map[string]string, error) {
	raw, ok := options["fields"]
	if !ok {
		return nil, nil, errors.New(`missing "fields" option`)
	}
	m, ok := raw.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, nil, errors.New(`option "fields" must be a non-empty mapping`)
	}
	names := make([]string, 0, len(m))
	exprs := make(map[string]string, len(m))
	for name, v := range m {
		expr, ok := v.(string)
		if !ok {
			return nil, nil, fmt.Errorf("field %q expression must be a string", name)
		}
		names = append(names, name)
		exprs[name] = expr
	}
	sort.Strings(names)
	return names, exprs, nil
}
