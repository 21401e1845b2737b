package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterRejectsNonHTTPSchemes(t *testing.T) {
	t.Parallel()

	f, err := NewFilter(nil, nil)
	require.NoError(t, err)
	require.False(t, f.IsValidAndNew("ftp://example.com/file"))
	require.False(t, f.IsValidAndNew("mailto:someone@example.com"))
	require.False(t, f.IsValidAndNew("javascript:void(0)"))
	require.True(t, f.IsValidAndNew("https://example.com/"))
	require.True(t, f.IsValidAndNew("http://example.com/"))
}

func TestFilterExcludeWinsOverInclude(t *testing.T) {
	t.Parallel()

	f, err := NewFilter([]string{`/products/`}, []string{`\.pdf$`})
	require.NoError(t, err)
	require.True(t, f.IsValidAndNew("https://shop.example.com/products/1"))
	require.False(t, f.IsValidAndNew("https://shop.example.com/products/manual.pdf"))
	require.False(t, f.IsValidAndNew("https://shop.example.com/about"))
}

func TestFilterIsValidAndNewDoesNotMark(t *testing.T) {
	t.Parallel()

	f, err := NewFilter(nil, nil)
	require.NoError(t, err)
	u := "https://example.com/a"
	require.True(t, f.IsValidAndNew(u))
	require.True(t, f.IsValidAndNew(u))

	require.True(t, f.MarkVisited(u))
	require.False(t, f.IsValidAndNew(u))
	require.False(t, f.MarkVisited(u))
	require.Equal(t, 1, f.VisitedCount())
}

func TestFilterFragmentsShareVisitedKey(t *testing.T) {
	t.Parallel()

	f, err := NewFilter(nil, nil)
	require.NoError(t, err)
	require.True(t, f.MarkVisited("https://example.com/page#top"))
	require.False(t, f.IsValidAndNew("https://example.com/page"))
	require.False(t, f.IsValidAndNew("https://EXAMPLE.com:443/page#bottom"))
}

func TestFilterReportsEachURLNewAtMostOnce(t *testing.T) {
	t.Parallel()

	f, err := NewFilter(nil, nil)
	require.NoError(t, err)
	input := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/a#x",
		"https://example.com/b?",
		"https://example.com/c?y=2&x=1",
		"https://example.com/c?x=1&y=2",
	}
	committed := 0
	for _, u := range input {
		if f.IsValidAndNew(u) && f.MarkVisited(u) {
			committed++
		}
	}
	require.Equal(t, 3, committed)
}

func TestNewFilterRejectsBadPattern(t *testing.T) {
	t.Parallel()

	_, err := NewFilter([]string{"("}, nil)
	require.Error(t, err)
	_, err = NewFilter(nil, []string{"[z-a]"})
	require.Error(t, err)
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"HTTPS://Example.COM:443/a#frag": "https://example.com/a",
		"http://example.com:80/":         "http://example.com/",
		"https://example.com/p?b=2&a=1":  "https://example.com/p?a=1&b=2",
		"https://example.com:8443/x":     "https://example.com:8443/x",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		require.NoError(t, err)
		require.Equal(t, want, got, in)
	}
}
