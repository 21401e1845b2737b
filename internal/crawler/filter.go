package crawler

import (
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
)

// VisitedSet is a grow-only set of normalized URLs.
// Commit is an atomic compare-and-insert.
type VisitedSet struct {
	seen  sync.Map
	count atomic.Int64
}

// Contains reports whether key was committed.
func (s *VisitedSet) Contains(key string) bool {
	_, ok := s.seen.Load(key)
	return ok
}

// Commit stores key and returns true only for the first caller.
func (s *VisitedSet) Commit(key string) bool {
	if key == "" {
		return false
	}
	_, loaded := s.seen.LoadOrStore(key, struct{}{})
	if !loaded {
		s.count.Add(1)
	}
	return !loaded
}

// Len returns the number of committed keys.
func (s *VisitedSet) Len() int {
	return int(s.count.Load())
}

// Filter admits http(s) URLs that pass include/exclude patterns and are unvisited.
type Filter struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
	visited VisitedSet
}

// NewFilter compiles the include and exclude patterns.
func NewFilter(include, exclude []string) (*Filter, error) {
	f := &Filter{}
	for _, p := range include {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile url pattern %q: %w", p, err)
		}
		f.include = append(f.include, re)
	}
	for _, p := range exclude {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", p, err)
		}
		f.exclude = append(f.exclude, re)
	}
	return f, nil
}

// Allowed applies the scheme and pattern checks without consulting the visited set.
func (f *Filter) Allowed(rawURL string) bool {
	if !isHTTP(rawURL) {
		return false
	}
	rawURL = StripFragment(rawURL)
	for _, re := range f.exclude {
		if re.MatchString(rawURL) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, re := range f.include {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// IsValidAndNew reports whether rawURL passes the filter and has not been visited.
// It does not mark the URL.
func (f *Filter) IsValidAndNew(rawURL string) bool {
	if !f.Allowed(rawURL) {
		return false
	}
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	return !f.visited.Contains(key)
}

// MarkVisited commits rawURL to the visited set.
// It returns false if the URL was already committed or cannot be parsed.
func (f *Filter) MarkVisited(rawURL string) bool {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	return f.visited.Commit(key)
}

// VisitedCount returns the number of distinct URLs marked visited.
func (f *Filter) VisitedCount() int {
	return f.visited.Len()
}
