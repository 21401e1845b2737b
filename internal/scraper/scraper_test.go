package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-acquirer/internal/parser"
	"github.com/JakeFAU/site-acquirer/internal/site"
)

type strategyFunc func(ctx context.Context, cfg site.Config, url string) ([]parser.Record, error)

func (f strategyFunc) Scrape(ctx context.Context, cfg site.Config, url string) ([]parser.Record, error) {
	return f(ctx, cfg, url)
}

func TestRouterDispatchesByType(t *testing.T) {
	t.Parallel()

	router := NewRouter(nil)
	router.Register(site.TypeHTML, strategyFunc(func(context.Context, site.Config, string) ([]parser.Record, error) {
		return []parser.Record{{"title": "a"}}, nil
	}))

	records, err := router.ScrapeSite(context.Background(), cssConfig(site.TypeHTML), "https://shop.example.com/")
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, err = router.ScrapeSite(context.Background(), cssConfig(site.TypePDF), "https://shop.example.com/")
	require.ErrorIs(t, err, ErrUnknownSiteType)

	_, err = router.ScrapeSite(context.Background(), site.Config{}, "https://shop.example.com/")
	require.Error(t, err)
}

func TestRouterSwallowsStrategyErrors(t *testing.T) {
	t.Parallel()

	router := NewRouter(nil)
	router.Register(site.TypeSPA, strategyFunc(func(context.Context, site.Config, string) ([]parser.Record, error) {
		return nil, errors.New("browser crashed")
	}))
	records, err := router.ScrapeSite(context.Background(), cssConfig(site.TypeSPA), "https://shop.example.com/")
	require.NoError(t, err)
	require.NotNil(t, records)
	require.Empty(t, records)
}

func TestStaticRetriesThenParses(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{body: itemsHTML("one", "two"), fails: 2}
	pages := &pageLog{}
	s := NewStatic(getter, parser.NewDefaultRegistry(nil), noWaitPolicy(), pages, nil)

	records, err := s.Scrape(context.Background(), cssConfig(site.TypeHTML), "https://shop.example.com/list")
	require.NoError(t, err)
	require.Equal(t, []any{"one", "two"}, titles(records))
	require.Equal(t, "/p/1", records[0]["link"])
	require.Equal(t, 3, getter.calls)
	require.Equal(t, []string{"https://shop.example.com/list"}, pages.urls)
}

func TestStaticReturnsEmptyAfterExhaustingRetries(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{body: itemsHTML("one"), fails: 10}
	s := NewStatic(getter, parser.NewDefaultRegistry(nil), noWaitPolicy(), nil, nil)

	records, err := s.Scrape(context.Background(), cssConfig(site.TypeHTML), "https://shop.example.com/list")
	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, 3, getter.calls)
}

func TestStaticUnknownParserFails(t *testing.T) {
	t.Parallel()

	cfg := cssConfig(site.TypeHTML)
	cfg.ParserType = "json"
	s := NewStatic(&fakeGetter{body: "{}"}, parser.NewDefaultRegistry(nil), noWaitPolicy(), nil, nil)
	_, err := s.Scrape(context.Background(), cfg, "https://shop.example.com/list")
	require.ErrorIs(t, err, parser.ErrUnknownParser)
}

func TestRenderedSinglePageClosesSession(t *testing.T) {
	t.Parallel()

	session := &fakeSession{pages: map[string]string{"https://shop.example.com/list": itemsHTML("a", "b")}}
	r, _ := newTestRendered(session)
	cfg := cssConfig(site.TypeSPA)
	cfg.Scraper.WaitFor = "div.item"

	records, err := r.Scrape(context.Background(), cfg, "https://shop.example.com/list")
	require.NoError(t, err)
	require.Equal(t, []any{"a", "b"}, titles(records))
	require.True(t, session.closed)
	require.Equal(t, []string{"div.item"}, session.waited)
}

func TestRenderedLaunchFailure(t *testing.T) {
	t.Parallel()

	r := NewRendered(&fakeLauncher{err: errors.New("no chrome")}, parser.NewDefaultRegistry(nil), noWaitPolicy(), nil, nil)
	_, err := r.Scrape(context.Background(), cssConfig(site.TypeSPA), "https://shop.example.com/list")
	require.Error(t, err)
}

func TestRenderedRetriesNavigation(t *testing.T) {
	t.Parallel()

	url := "https://shop.example.com/list"
	session := &fakeSession{
		pages:    map[string]string{url: itemsHTML("a")},
		navFails: map[string]int{url: 2},
	}
	r, _ := newTestRendered(session)
	records, err := r.Scrape(context.Background(), cssConfig(site.TypeSPA), url)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, session.navigations, 3)
}

func TestRenderedAutoScrollStopsWhenHeightSettles(t *testing.T) {
	t.Parallel()

	url := "https://shop.example.com/list"
	session := &fakeSession{
		pages:   map[string]string{url: itemsHTML("a")},
		heights: []int64{100, 200, 200},
	}
	r, rec := newTestRendered(session)
	cfg := cssConfig(site.TypeSPA)
	cfg.Scraper.Scroll = true

	_, err := r.Scrape(context.Background(), cfg, url)
	require.NoError(t, err)
	require.Equal(t, 2, session.scrolls)
	require.Equal(t, 2, rec.count(autoScrollPause))
}

func TestRenderedAutoScrollCapped(t *testing.T) {
	t.Parallel()

	url := "https://shop.example.com/list"
	session := &fakeSession{
		pages:   map[string]string{url: itemsHTML("a")},
		heights: []int64{1, 2, 3, 4, 5, 6, 7, 8},
	}
	r, _ := newTestRendered(session)
	cfg := cssConfig(site.TypeSPA)
	cfg.Scraper.Scroll = true

	_, err := r.Scrape(context.Background(), cfg, url)
	require.NoError(t, err)
	require.Equal(t, maxAutoScrolls, session.scrolls)
}

func TestClickPaginationStopsWhenNextDisabled(t *testing.T) {
	t.Parallel()

	url := "https://shop.example.com/list"
	session := &fakeSession{
		pages:      map[string]string{url: itemsHTML("p1")},
		clickPages: []string{itemsHTML("p2"), itemsHTML("p3")},
	}
	r, rec := newTestRendered(session)
	cfg := cssConfig(site.TypeSPA)
	cfg.Scraper.Pagination = &site.Pagination{Type: site.PaginationClick, NextButtonSelector: "a.next", Delay: floatPtr(0.5)}

	records, err := r.Scrape(context.Background(), cfg, url)
	require.NoError(t, err)
	require.Equal(t, []any{"p1", "p2", "p3"}, titles(records))
	require.Equal(t, 2, rec.count(500*time.Millisecond))
}

func TestClickPaginationHonorsMaxPages(t *testing.T) {
	t.Parallel()

	url := "https://shop.example.com/list"
	session := &fakeSession{
		pages:      map[string]string{url: itemsHTML("p1")},
		clickPages: []string{itemsHTML("p2"), itemsHTML("p3"), itemsHTML("p4")},
	}
	r, _ := newTestRendered(session)
	cfg := cssConfig(site.TypeSPA)
	cfg.Scraper.Pagination = &site.Pagination{Type: site.PaginationClick, NextButtonSelector: "a.next", MaxPages: 2}

	records, err := r.Scrape(context.Background(), cfg, url)
	require.NoError(t, err)
	require.Equal(t, []any{"p1", "p2"}, titles(records))
}

func TestScrollPaginationReparsesEachIteration(t *testing.T) {
	t.Parallel()

	url := "https://shop.example.com/list"
	session := &fakeSession{pages: map[string]string{url: itemsHTML("a")}}
	r, rec := newTestRendered(session)
	cfg := cssConfig(site.TypeSPA)
	cfg.Scraper.Scroll = true
	cfg.Scraper.Pagination = &site.Pagination{Type: site.PaginationScroll, MaxPages: 2, Delay: floatPtr(1)}

	records, err := r.Scrape(context.Background(), cfg, url)
	require.NoError(t, err)
	require.Len(t, records, 3)
	// auto-scroll is skipped on the first page; each iteration scrolls once
	// because the height never changes.
	require.Equal(t, 2, session.scrolls)
	require.Equal(t, 2, rec.count(time.Second))
}

func TestURLPatternPaginationStopsAtFirstEmptyPage(t *testing.T) {
	t.Parallel()

	base := "https://shop.example.com/list"
	session := &fakeSession{pages: map[string]string{
		base:                                 itemsHTML("p1"),
		"https://shop.example.com/list?p=2": itemsHTML("p2"),
		"https://shop.example.com/list?p=4": itemsHTML("p4"),
	}}
	r, _ := newTestRendered(session)
	cfg := cssConfig(site.TypeSPA)
	cfg.Scraper.Pagination = &site.Pagination{Type: site.PaginationURLPattern, URLPattern: base + "?p={page_num}"}

	records, err := r.Scrape(context.Background(), cfg, base)
	require.NoError(t, err)
	require.Equal(t, []any{"p1", "p2"}, titles(records))
	require.NotContains(t, session.navigations, "https://shop.example.com/list?p=4")
}

func detailConfig() site.Config {
	cfg := cssConfig(site.TypeSPA)
	cfg.Scraper.DetailParser = &site.DetailParser{
		BaseURL:     "https://shop.example.com",
		FieldPrefix: "detail_",
		RateLimit:   site.DetailRate{Delay: floatPtr(0.25)},
		ParserType:  parser.TypeCSS,
		ParserConfig: map[string]any{
			"container": "main",
			"fields":    map[string]any{"price": "span.price"},
		},
	}
	return cfg
}

func TestDetailEnrichmentMergesWithPrefix(t *testing.T) {
	t.Parallel()

	list := "https://shop.example.com/list"
	session := &fakeSession{pages: map[string]string{
		list:                           itemsHTML("a", "b", "c"),
		"https://shop.example.com/p/1": `<main><span class="price">$1</span></main>`,
		"https://shop.example.com/p/3": `<main><span class="price">$3</span></main>`,
	}}
	r, rec := newTestRendered(session)

	records, err := r.Scrape(context.Background(), detailConfig(), list)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "$1", records[0]["detail_price"])
	require.NotContains(t, records[1], "detail_price", "failed detail keeps the listing record")
	require.Equal(t, "b", records[1]["title"])
	require.Equal(t, "$3", records[2]["detail_price"])
	require.Equal(t, 2, rec.count(250*time.Millisecond), "delay only between detail fetches")
}

func TestDetailEnrichmentDropsItemsPastMaxPages(t *testing.T) {
	t.Parallel()

	list := "https://shop.example.com/list"
	session := &fakeSession{pages: map[string]string{
		list:                           itemsHTML("a", "b", "c"),
		"https://shop.example.com/p/1": `<main><span class="price">$1</span></main>`,
		"https://shop.example.com/p/2": `<main><span class="price">$2</span></main>`,
		"https://shop.example.com/p/3": `<main><span class="price">$3</span></main>`,
	}}
	r, _ := newTestRendered(session)
	cfg := detailConfig()
	cfg.Scraper.DetailParser.MaxPages = 2

	records, err := r.Scrape(context.Background(), cfg, list)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "$1", records[0]["detail_price"])
	require.Equal(t, "$2", records[1]["detail_price"])
	require.NotContains(t, session.navigations, "https://shop.example.com/p/3")
}

func TestDetailEnrichmentNeedsBaseForRelativeLinks(t *testing.T) {
	t.Parallel()

	list := "https://shop.example.com/list"
	session := &fakeSession{pages: map[string]string{list: itemsHTML("a")}}
	r, _ := newTestRendered(session)
	cfg := detailConfig()
	cfg.Scraper.DetailParser.BaseURL = ""

	records, err := r.Scrape(context.Background(), cfg, list)
	require.NoError(t, err)
	require.Equal(t, []parser.Record{{"title": "a", "link": "/p/1"}}, records)
	require.Equal(t, []string{list}, session.navigations)
}

func TestDetectURLField(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", detectURLField(nil))
	require.Equal(t, "product_url", detectURLField([]parser.Record{{
		"link": "https://x", "product_url": "/p/1", "url": "none",
	}}))
	require.Equal(t, "url", detectURLField([]parser.Record{{"url": "https://x", "link": "/y"}}))
	require.Equal(t, "ImageLink", detectURLField([]parser.Record{{"ImageLink": 3, "title": "t"}}))
	require.Equal(t, "", detectURLField([]parser.Record{{"title": "t"}}))
}

func TestResolveDetailURL(t *testing.T) {
	t.Parallel()

	u, ok := resolveDetailURL(parser.Record{"u": "https://a.example.com/x"}, "u", "")
	require.True(t, ok)
	require.Equal(t, "https://a.example.com/x", u)

	u, ok = resolveDetailURL(parser.Record{"u": "item/2"}, "u", "https://a.example.com/list/")
	require.True(t, ok)
	require.Equal(t, "https://a.example.com/list/item/2", u)

	_, ok = resolveDetailURL(parser.Record{"u": nil}, "u", "https://a.example.com")
	require.False(t, ok)
}
