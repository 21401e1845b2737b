// Package validate checks transformed records against per-field rules.
package validate

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/JakeFAU/site-acquirer/internal/parser"
	"github.com/JakeFAU/site-acquirer/internal/site"
)

// Issue types, one per rule.
const (
	IssueRequired  = "required"
	IssueType      = "type"
	IssueMinLength = "min_length"
	IssueMaxLength = "max_length"
	IssueMinValue  = "min_value"
	IssueMaxValue  = "max_value"
	IssueRegex     = "regex"
)

// Issue is one rule violation by one record.
type Issue struct {
	// Index is the record's position in the input.
	Index   int
	Field   string
	Type    string
	Details string
}

// Validate returns the records that pass every rule and one Issue for each
// violation. All rules are evaluated for every record.
func Validate(records []parser.Record, rules map[string]site.Rule) ([]parser.Record, []Issue) {
	if len(rules) == 0 {
		return records, nil
	}
	fields := make([]string, 0, len(rules))
	for field := range rules {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	valid := make([]parser.Record, 0, len(records))
	var issues []Issue
	for i, record := range records {
		before := len(issues)
		for _, field := range fields {
			for _, v := range check(field, record[field], rules[field]) {
				v.Index = i
				issues = append(issues, v)
			}
		}
		if len(issues) == before {
			valid = append(valid, record)
		}
	}
	return valid, issues
}

func check(field string, value any, rule site.Rule) []Issue {
	var out []Issue
	add := func(kind, format string, args ...any) {
		out = append(out, Issue{Field: field, Type: kind, Details: fmt.Sprintf(format, args...)})
	}

	if rule.Required && (value == nil || value == "") {
		add(IssueRequired, "field %q is required but missing or empty", field)
	}
	if rule.Type != "" && value != nil && !hasType(value, rule.Type) {
		add(IssueType, "field %q expected type %q, got %T", field, rule.Type, value)
	}
	if s, ok := value.(string); ok {
		n := utf8.RuneCountInString(s)
		if rule.MinLength != nil && n < *rule.MinLength {
			add(IssueMinLength, "field %q min_length %d not met", field, *rule.MinLength)
		}
		if rule.MaxLength != nil && n > *rule.MaxLength {
			add(IssueMaxLength, "field %q max_length %d exceeded", field, *rule.MaxLength)
		}
		if rule.Regex != "" {
			re, err := compile(rule.Regex)
			switch {
			case err != nil:
				add(IssueRegex, "field %q has invalid regex %q: %v", field, rule.Regex, err)
			case !re.MatchString(s):
				add(IssueRegex, "field %q does not match regex pattern %q", field, rule.Regex)
			}
		}
	}
	if f, ok := number(value); ok {
		if rule.MinValue != nil && f < *rule.MinValue {
			add(IssueMinValue, "field %q min_value %v not met", field, *rule.MinValue)
		}
		if rule.MaxValue != nil && f > *rule.MaxValue {
			add(IssueMaxValue, "field %q max_value %v exceeded", field, *rule.MaxValue)
		}
	}
	return out
}

func hasType(value any, want string) bool {
	switch want {
	case "str":
		_, ok := value.(string)
		return ok
	case "int":
		return isInt(value)
	case "float":
		_, ok := number(value)
		return ok
	case "bool":
		_, ok := value.(bool)
		return ok
	default:
		return true
	}
}

func isInt(value any) bool {
	switch value.(type) {
	case int, int32, int64:
		return true
	default:
		return false
	}
}

func number(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

var patterns sync.Map

// compile anchors pattern at the start of the value, matching prefix semantics.
func compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, err
	}
	patterns.Store(pattern, re)
	return re, nil
}
