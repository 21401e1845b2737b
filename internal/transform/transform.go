// Package transform maps raw parsed records onto typed, cleaned target fields.
package transform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/JakeFAU/site-acquirer/internal/parser"
	"github.com/JakeFAU/site-acquirer/internal/site"
)

// Transform applies rules to every record. The output holds only the rule
// targets; with no rules the records pass through unchanged.
func Transform(records []parser.Record, rules map[string]site.FieldTransform) []parser.Record {
	if len(rules) == 0 {
		return records
	}
	targets := make([]string, 0, len(rules))
	for target := range rules {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	out := make([]parser.Record, 0, len(records))
	for _, record := range records {
		item := make(parser.Record, len(targets))
		for _, target := range targets {
			rule := rules[target]
			source := rule.SourceField
			if source == "" {
				source = target
			}
			item[target] = applySteps(record[source], rule.Steps)
		}
		out = append(out, item)
	}
	return out
}

func applySteps(value any, steps []site.Step) any {
	for _, step := range steps {
		switch {
		case step.Strip != nil:
			if s, ok := value.(string); ok {
				value = strings.TrimSpace(strings.ReplaceAll(s, *step.Strip, ""))
			}
		case step.Replace != nil:
			if s, ok := value.(string); ok {
				value = strings.ReplaceAll(s, step.Replace.Old, step.Replace.New)
			}
		case step.Convert != "":
			if value != nil {
				value = convert(value, step.Convert)
			}
		case step.CleanWhitespace:
			if s, ok := value.(string); ok {
				value = strings.Join(strings.Fields(s), " ")
			}
		}
	}
	return value
}

// convert returns nil when value cannot be represented as the target type.
// Unknown targets leave the value as is.
func convert(value any, to string) any {
	switch to {
	case "str":
		return toString(value)
	case "int":
		if v, ok := toInt(value); ok {
			return v
		}
		return nil
	case "float":
		if v, ok := toFloat(value); ok {
			return v
		}
		return nil
	case "bool":
		return toBool(value)
	default:
		return value
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return i, err == nil
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toBool(value any) bool {
	switch v := value.(type) {
	case string:
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true
		}
		return false
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	default:
		return value != nil
	}
}
