package validate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-acquirer/internal/parser"
	"github.com/JakeFAU/site-acquirer/internal/site"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func issueTypes(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Field+":"+i.Type)
	}
	return out
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	t.Parallel()

	rules := map[string]site.Rule{
		"name":  {Required: true, Type: "str", MinLength: intPtr(5), Regex: `[A-Z]`},
		"price": {Required: true, Type: "float", MinValue: floatPtr(0), MaxValue: floatPtr(100)},
		"url":   {Required: true, Regex: `https?://`},
	}
	records := []parser.Record{
		{"name": "Widget", "price": 9.99, "url": "https://x.example.com"},
		{"name": "abc", "price": -1.0, "url": "see https://x"},
		{"price": "cheap"},
	}

	valid, issues := Validate(records, rules)
	require.Equal(t, []parser.Record{records[0]}, valid)
	require.Equal(t, []string{
		"name:min_length", "name:regex", "price:min_value", "url:regex",
		"name:required", "price:type", "url:required",
	}, issueTypes(issues))
	require.Equal(t, 1, issues[0].Index)
	require.Equal(t, 2, issues[len(issues)-1].Index)
}

func TestValidateTypeChecks(t *testing.T) {
	t.Parallel()

	rules := map[string]site.Rule{
		"n": {Type: "int"},
		"f": {Type: "float"},
		"b": {Type: "bool"},
		"s": {Type: "str"},
	}
	valid, issues := Validate([]parser.Record{
		{"n": int64(1), "f": int64(2), "b": true, "s": "x"},
		{"n": 1.5, "f": "2", "b": "true", "s": 3},
		{"n": nil},
	}, rules)
	require.Len(t, valid, 2)
	require.Len(t, issues, 4)
	for _, issue := range issues {
		require.Equal(t, 1, issue.Index)
		require.Equal(t, IssueType, issue.Type)
	}
}

func TestValidateEmptyStringFailsRequired(t *testing.T) {
	t.Parallel()

	_, issues := Validate([]parser.Record{{"title": ""}}, map[string]site.Rule{"title": {Required: true}})
	require.Len(t, issues, 1)
	require.Equal(t, IssueRequired, issues[0].Type)
}

func TestValidateLengthCountsRunes(t *testing.T) {
	t.Parallel()

	rules := map[string]site.Rule{"t": {MaxLength: intPtr(3)}}
	valid, _ := Validate([]parser.Record{{"t": "héé"}}, rules)
	require.Len(t, valid, 1)
}

func TestValidateInvalidRegexIsAnIssue(t *testing.T) {
	t.Parallel()

	_, issues := Validate([]parser.Record{{"t": "x"}}, map[string]site.Rule{"t": {Regex: `(`}})
	require.Len(t, issues, 1)
	require.Equal(t, IssueRegex, issues[0].Type)
}

func TestValidateWithoutRules(t *testing.T) {
	t.Parallel()

	in := []parser.Record{{"a": 1}}
	valid, issues := Validate(in, nil)
	require.Equal(t, in, valid)
	require.Empty(t, issues)
}
