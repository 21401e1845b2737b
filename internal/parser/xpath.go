package parser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"go.uber.org/zap"
)

// XPath extracts records with XPath expressions evaluated by antchfx/xpath.
//
// An expression selecting elements yields the first element's trimmed text.
// One selecting attributes or text nodes yields their values joined by spaces.
// A field whose expression does not compile is nil in every record.
type XPath struct{}

// Parse implements Parser.
func (XPath) Parse(_ context.Context, content string, options map[string]any) ([]Record, error) {
	container, err := stringOption(options, "container")
	if err != nil {
		return nil, err
	}
	names, exprs, err := fieldOptions(options)
	if err != nil {
		return nil, err
	}
	compiled := make(map[string]*xpath.Expr, len(exprs))
	for _, name := range names {
		expr, err := xpath.Compile(exprs[name])
		if err != nil {
			zap.L().Warn("xpath field expression invalid",
				zap.String("field", name),
				zap.String("expr", exprs[name]),
				zap.Error(err),
			)
			continue
		}
		compiled[name] = expr
	}

	doc, err := htmlquery.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	items, err := htmlquery.QueryAll(doc, container)
	if err != nil {
		return nil, fmt.Errorf("container xpath: %w", err)
	}

	records := make([]Record, 0, len(items))
	for _, item := range items {
		record := make(Record, len(names))
		for _, name := range names {
			expr, ok := compiled[name]
			if !ok {
				record[name] = nil
				continue
			}
			record[name] = evaluateXPath(expr, htmlquery.CreateXPathNavigator(item))
		}
		records = append(records, record)
	}
	return records, nil
}

func evaluateXPath(expr *xpath.Expr, nav xpath.NodeNavigator) any {
	switch v := expr.Evaluate(nav).(type) {
	case *xpath.NodeIterator:
		return nodeSetValue(v)
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	case float64:
		if v != 0 {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	case bool:
		if v {
			return "true"
		}
	}
	return nil
}

func nodeSetValue(iter *xpath.NodeIterator) any {
	var parts []string
	for iter.MoveNext() {
		node := iter.Current()
		if len(parts) == 0 && node.NodeType() == xpath.ElementNode {
			return strings.TrimSpace(node.Value())
		}
		parts = append(parts, node.Value())
	}
	if len(parts) == 0 {
		return nil
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
