package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CSS extracts records with goquery selectors.
//
// Options: container (selector for each item) and fields (name -> selector
// relative to the container, with an optional ::text or ::attr(name) suffix).
type CSS struct{}

// Parse implements Parser.
func (CSS) Parse(_ context.Context, content string, options map[string]any) ([]Record, error) {
	container, err := stringOption(options, "container")
	if err != nil {
		return nil, err
	}
	names, exprs, err := fieldOptions(options)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	items := doc.Find(container)
	records := make([]Record, 0, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		record := make(Record, len(names))
		for _, name := range names {
			record[name] = extractCSS(item, exprs[name])
		}
		records = append(records, record)
	})
	return records, nil
}

func extractCSS(item *goquery.Selection, expr string) any {
	selector, extractor := splitSelector(expr)
	el := item.Find(selector).First()
	if el.Length() == 0 {
		return nil
	}
	if extractor == extractText {
		return strings.TrimSpace(el.Text())
	}
	if name, ok := attrName(extractor); ok {
		if v, exists := el.Attr(name); exists {
			return v
		}
	}
	return nil
}
