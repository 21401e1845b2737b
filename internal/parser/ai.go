package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// DefaultMaxContentChars bounds the document text sent to the model.
	DefaultMaxContentChars = 15000
	// DefaultModel is used when the options name no model.
	DefaultModel = "claude-3-5-haiku-latest"
)

// Completer sends a prompt to a language model and returns its text reply.
type Completer interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// AI extracts records by prompting a language model.
//
// Options: model (DefaultModel when absent), prompt_template (with {fields}
// and {text} placeholders) and fields (list of names). Every completion
// failure degrades to an empty result.
type AI struct {
	completer       Completer
	maxContentChars int
	logger          *zap.Logger
}

// NewAI builds the AI strategy. A nil completer disables the strategy.
func NewAI(completer Completer, maxContentChars int, logger *zap.Logger) *AI {
	if maxContentChars <= 0 {
		maxContentChars = DefaultMaxContentChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AI{completer: completer, maxContentChars: maxContentChars, logger: logger}
}

// Parse implements Parser.
func (a *AI) Parse(ctx context.Context, content string, options map[string]any) ([]Record, error) {
	if a.completer == nil {
		a.logger.Warn("ai parser has no credentials configured")
		return []Record{}, nil
	}
	model := DefaultModel
	if _, ok := options["model"]; ok {
		m, err := stringOption(options, "model")
		if err != nil {
			return nil, err
		}
		model = m
	}
	template, err := stringOption(options, "prompt_template")
	if err != nil {
		return nil, err
	}
	fields, err := listOption(options, "fields")
	if err != nil {
		return nil, err
	}

	text := truncateRunes(visibleText(content), a.maxContentChars)
	prompt := strings.NewReplacer("{fields}", strings.Join(fields, ", "), "{text}", text).Replace(template)

	reply, err := a.completer.Complete(ctx, model, prompt)
	if err != nil {
		a.logger.Warn("ai completion failed", zap.String("model", model), zap.Error(err))
		return []Record{}, nil
	}
	records, err := decodeRecords(reply)
	if err != nil {
		a.logger.Warn("ai reply not usable", zap.String("model", model), zap.Error(err))
		return []Record{}, nil
	}
	return records, nil
}

func listOption(options map[string]any, key string) ([]string, error) {
	raw, ok := options[key].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("option %q must be a non-empty list", key)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, fmt.Sprint(v))
	}
	return out, nil
}

// visibleText returns the document's text without script and style content,
// with whitespace runs collapsed. Non-HTML input is returned as-is.
func visibleText(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// decodeRecords finds the first JSON object or array in reply.
func decodeRecords(reply string) ([]Record, error) {
	start := strings.IndexAny(reply, "{[")
	if start < 0 {
		return nil, fmt.Errorf("no json in reply")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(reply[start:])))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	switch v := value.(type) {
	case map[string]any:
		return []Record{normalizeNumbers(v)}, nil
	case []any:
		records := make([]Record, 0, len(v))
		for _, entry := range v {
			if obj, ok := entry.(map[string]any); ok {
				records = append(records, normalizeNumbers(obj))
			}
		}
		return records, nil
	default:
		return nil, fmt.Errorf("unexpected reply type %T", value)
	}
}

// normalizeNumbers turns json.Number values into int64 or float64.
func normalizeNumbers(obj map[string]any) Record {
	out := make(Record, len(obj))
	for k, v := range obj {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				out[k] = i
				continue
			}
			if f, err := n.Float64(); err == nil {
				out[k] = f
				continue
			}
		}
		out[k] = v
	}
	return out
}
