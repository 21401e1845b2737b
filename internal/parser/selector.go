package parser

import "strings"

const (
	extractText = "text"
	attrPrefix  = "attr("
)

// splitSelector separates "sel::text" or "sel::attr(name)" into its parts.
// A selector without a suffix extracts text.
func splitSelector(expr string) (selector, extractor string) {
	selector, extractor, found := strings.Cut(expr, "::")
	if !found {
		return expr, extractText
	}
	return selector, extractor
}

// attrName returns the attribute inside "attr(name)".
func attrName(extractor string) (string, bool) {
	if !strings.HasPrefix(extractor, attrPrefix) || !strings.HasSuffix(extractor, ")") {
		return "", false
	}
	return extractor[len(attrPrefix) : len(extractor)-1], true
}
