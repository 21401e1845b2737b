package site

import (
	"fmt"
	"slices"
)

var (
	siteTypes   = []string{TypeHTML, TypeSPA, TypeAPI, TypePDF, TypeExcel}
	parserTypes = []string{"css", "xpath", "json", "ai"}
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindMap
	kindList
)

func (k fieldKind) String() string {
	switch k {
	case kindMap:
		return "map"
	case kindList:
		return "list"
	default:
		return "string"
	}
}

type requiredField struct {
	name string
	kind fieldKind
}

var parserRequired = map[string][]requiredField{
	"css":   {{"container", kindString}, {"fields", kindMap}},
	"xpath": {{"container", kindString}, {"fields", kindMap}},
	"json":  {{"container", kindString}, {"fields", kindMap}},
	"ai":    {{"model", kindString}, {"prompt_template", kindString}, {"fields", kindList}},
}

// Validate checks a raw site config document before any fetch happens.
// Every problem is reported; ok is true only when errs is empty.
func Validate(raw map[string]any) (bool, []error) {
	var errs []error

	for _, f := range []requiredField{{"name", kindString}, {"seed_url", kindString}} {
		if err := checkField(raw, "", f); err != nil {
			errs = append(errs, err)
		}
	}
	if err := checkEnum(raw, "type", siteTypes); err != nil {
		errs = append(errs, err)
	}
	if err := checkEnum(raw, "parser_type", parserTypes); err != nil {
		errs = append(errs, err)
	}
	if err := checkField(raw, "", requiredField{"parser_config", kindMap}); err != nil {
		errs = append(errs, err)
	}

	parserType, _ := raw["parser_type"].(string)
	parserConfig, _ := raw["parser_config"].(map[string]any)
	if parserType != "" && parserConfig != nil {
		required, known := parserRequired[parserType]
		if !known {
			errs = append(errs, fmt.Errorf("unknown parser_type %q", parserType))
		}
		for _, f := range required {
			if err := checkField(parserConfig, "parser_config.", f); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return len(errs) == 0, errs
}

func checkEnum(raw map[string]any, name string, allowed []string) error {
	v, ok := raw[name]
	if !ok {
		return fmt.Errorf("missing required field %q", name)
	}
	s, ok := v.(string)
	if !ok || !slices.Contains(allowed, s) {
		return fmt.Errorf("invalid value for field %q: %v", name, v)
	}
	return nil
}

func checkField(raw map[string]any, prefix string, f requiredField) error {
	v, ok := raw[f.name]
	if !ok {
		return fmt.Errorf("missing required field %q", prefix+f.name)
	}
	if !hasKind(v, f.kind) {
		return fmt.Errorf("field %q expected type %s, got %T", prefix+f.name, f.kind, v)
	}
	return nil
}

func hasKind(v any, kind fieldKind) bool {
	switch kind {
	case kindMap:
		_, ok := v.(map[string]any)
		return ok
	case kindList:
		_, ok := v.([]any)
		return ok
	default:
		_, ok := v.(string)
		return ok
	}
}
