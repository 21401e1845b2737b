package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-acquirer/internal/clock/system"
	"github.com/JakeFAU/site-acquirer/internal/crawler"
	idgen "github.com/JakeFAU/site-acquirer/internal/id/uuid"
	"github.com/JakeFAU/site-acquirer/internal/parser"
	pubmemory "github.com/JakeFAU/site-acquirer/internal/publisher/memory"
	"github.com/JakeFAU/site-acquirer/internal/site"
	"github.com/JakeFAU/site-acquirer/internal/storage/memory"
	"github.com/JakeFAU/site-acquirer/internal/store"
)

type linkFetcher struct {
	pages map[string][]string
}

func (f linkFetcher) Fetch(_ context.Context, url string) (crawler.Page, error) {
	hrefs, ok := f.pages[url]
	if !ok {
		return crawler.Page{}, fmt.Errorf("404 %s", url)
	}
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">x</a>`, h)
	}
	b.WriteString("</body></html>")
	return crawler.Page{URL: url, StatusCode: 200, Body: []byte(b.String())}, nil
}

type fakeScraper struct {
	mu      sync.Mutex
	records map[string][]parser.Record
	err     error
	calls   []string
}

func (f *fakeScraper) ScrapeSite(_ context.Context, _ site.Config, url string) ([]parser.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.err != nil {
		return nil, f.err
	}
	return f.records[url], nil
}

type failingStore struct {
	*memory.Store
	failOn int
	calls  int
}

func (s *failingStore) UpsertScrapedItems(ctx context.Context, items []store.ScrapedItem) (store.UpsertResult, error) {
	s.calls++
	if s.calls == s.failOn {
		return store.UpsertResult{}, errors.New("connection lost")
	}
	return s.Store.UpsertScrapedItems(ctx, items)
}

const seed = "https://shop.example.com/"

func shopConfig() site.Config {
	minPrice := 0.0
	return site.Config{
		Name:       "shop",
		Type:       site.TypeHTML,
		SeedURL:    seed,
		ParserType: "css",
		Transformations: map[string]site.FieldTransform{
			"title": {Steps: []site.Step{{CleanWhitespace: true}}},
			"price": {Steps: []site.Step{{Convert: "float"}}},
		},
		ValidationRules: map[string]site.Rule{
			"title": {Required: true},
			"price": {Type: "float", MinValue: &minPrice},
		},
	}
}

func shopPages() map[string][]string {
	return map[string][]string{
		seed:                              {"/list", "https://elsewhere.example.com/"},
		"https://shop.example.com/list":   {"/item/1"},
		"https://shop.example.com/item/1": nil,
		"https://elsewhere.example.com/":  nil,
	}
}

type harness struct {
	orch    *Orchestrator
	store   *memory.Store
	scraper *fakeScraper
	events  *pubmemory.Publisher
	clock   *system.Fixed
}

func newHarness(t *testing.T, cfg site.Config, records map[string][]parser.Record, st store.Store) harness {
	t.Helper()
	catalog, err := site.NewCatalog(cfg)
	require.NoError(t, err)
	mem := memory.NewStore()
	if st == nil {
		st = mem
	}
	h := harness{
		store:   mem,
		scraper: &fakeScraper{records: records},
		events:  pubmemory.New(),
		clock:   system.NewFixed(time.Unix(1700000000, 0)),
	}
	h.orch, err = New(Config{}, Deps{
		Sites:     catalog,
		Store:     st,
		Scraper:   h.scraper,
		Fetcher:   linkFetcher{pages: shopPages()},
		Publisher: h.events,
		Clock:     h.clock,
		IDs:       idgen.NewGenerator(),
	})
	require.NoError(t, err)
	return h
}

func TestRunStoresValidRecordsAndRecordsIssues(t *testing.T) {
	t.Parallel()

	records := map[string][]parser.Record{
		"https://shop.example.com/list": {
			{"title": "  Red   Mug ", "price": "9.50"},
			{"title": nil, "price": "3"},
			{"title": "Blue Mug", "price": "oops"},
		},
		"https://shop.example.com/item/1": {
			{"title": "Red Mug", "price": "9.50", "sku": "ignored"},
		},
	}
	h := newHarness(t, shopConfig(), records, nil)

	job, err := h.orch.Run(context.Background(), "shop")
	require.NoError(t, err)
	require.Equal(t, store.JobCompleted, job.Status)
	require.Equal(t, 3, job.ItemsScraped)
	require.NotContains(t, h.scraper.calls, "https://elsewhere.example.com/")
	require.Contains(t, job.LogSummary, "offsite=1")
	require.Contains(t, job.LogSummary, "issues=1")

	first, ok := h.store.Item("https://shop.example.com/list#item-1")
	require.True(t, ok)
	require.Equal(t, "Red Mug", first.Data["title"])
	require.Equal(t, 9.5, first.Data["price"])
	require.Equal(t, job.ID, first.JobID)
	require.Equal(t, job.SiteID, first.SiteID)
	require.Len(t, first.DataHash, 64)

	_, ok = h.store.Item("https://shop.example.com/list#item-2")
	require.False(t, ok, "records failing validation are not stored")

	third, ok := h.store.Item("https://shop.example.com/list#item-3")
	require.True(t, ok)
	require.Nil(t, third.Data["price"], "failed convert yields nil which passes optional rules")

	detail, ok := h.store.Item("https://shop.example.com/item/1")
	require.True(t, ok, "a single record takes the page URL")
	require.NotContains(t, detail.Data, "sku")
	require.Equal(t, first.DataHash, detail.DataHash)

	issues := h.store.Issues()
	require.Len(t, issues, 1)
	require.Equal(t, "title", issues[0].FieldName)
	require.Equal(t, "required", issues[0].IssueType)
	require.Equal(t, "https://shop.example.com/list#item-2", issues[0].SourceURL)
	require.Equal(t, job.ID, issues[0].JobID)

	stored, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, store.JobCompleted, stored.Status)
	require.Equal(t, job.LogSummary, stored.LogSummary)

	events := h.events.Events()
	require.Len(t, events, 1)
	require.Equal(t, "completed", events[0].Status)
	require.Equal(t, "shop", events[0].Site)
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	records := map[string][]parser.Record{
		"https://shop.example.com/item/1": {{"title": "Red Mug", "price": "9.50"}},
	}
	h := newHarness(t, shopConfig(), records, nil)

	_, err := h.orch.Run(context.Background(), "shop")
	require.NoError(t, err)
	second, err := h.orch.Run(context.Background(), "shop")
	require.NoError(t, err)
	require.Contains(t, second.LogSummary, "inserted=0 updated=0 unchanged=1")
	require.Equal(t, 1, h.store.ItemCount())

	sites, err := h.store.ListSites(context.Background())
	require.NoError(t, err)
	require.Len(t, sites, 1)
	require.Equal(t, second.SiteID, sites[0].ID)
}

func TestRunFailsJobOnStorageError(t *testing.T) {
	t.Parallel()

	records := map[string][]parser.Record{
		"https://shop.example.com/list":   {{"title": "A", "price": "1"}},
		"https://shop.example.com/item/1": {{"title": "B", "price": "2"}},
	}
	st := &failingStore{Store: memory.NewStore(), failOn: 2}
	h := newHarness(t, shopConfig(), records, st)

	job, err := h.orch.Run(context.Background(), "shop")
	require.ErrorContains(t, err, "connection lost")
	require.Equal(t, store.JobFailed, job.Status)
	require.Equal(t, 1, job.ItemsScraped)

	_, ok := st.Item("https://shop.example.com/list")
	require.True(t, ok, "batches committed before the failure are kept")

	stored, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, store.JobFailed, stored.Status)
	require.Contains(t, stored.LogSummary, "connection lost")
	require.Equal(t, "failed", h.events.Events()[0].Status)
}

func TestRunFailsOnRoutingError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, shopConfig(), nil, nil)
	h.scraper.err = errors.New("no scraper registered for site type")

	job, err := h.orch.Run(context.Background(), "shop")
	require.Error(t, err)
	require.Equal(t, store.JobFailed, job.Status)
	require.Len(t, h.scraper.calls, 1)
}

func TestRunRejectsInvalidConfigBeforeCreatingJob(t *testing.T) {
	t.Parallel()

	cfg := shopConfig()
	cfg.Crawler.URLPatterns = []string{"("}
	h := newHarness(t, cfg, nil, nil)

	_, err := h.orch.Run(context.Background(), "shop")
	require.ErrorIs(t, err, site.ErrInvalidConfig)
	jobs, err := h.store.ListJobs(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	require.Empty(t, jobs)
	require.Empty(t, h.scraper.calls)

	_, err = h.orch.Run(context.Background(), "missing")
	require.ErrorIs(t, err, site.ErrNotFound)
}

func TestRunMarksTimedOutJobFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, shopConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	run, err := h.orch.Prepare(ctx, "shop")
	require.NoError(t, err)
	cancel()

	job, err := h.orch.Execute(ctx, run)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, store.JobFailed, job.Status)

	stored, err := h.store.GetJob(context.Background(), run.Job.ID)
	require.NoError(t, err)
	require.Equal(t, store.JobFailed, stored.Status, "job is finished even though the run context ended")
}

func TestDiscoverListsURLs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, shopConfig(), nil, nil)
	var urls []string
	stats, err := h.orch.Discover(context.Background(), "shop", func(_ context.Context, u string) error {
		urls = append(urls, u)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 4, stats.Visited)
	require.Equal(t, seed, urls[0])
	require.Empty(t, h.scraper.calls)
}

func TestSourceURLs(t *testing.T) {
	t.Parallel()

	two := []parser.Record{{"title": "a"}, {"title": "b"}}
	require.Equal(t, []string{"https://x/p"}, sourceURLs("https://x/p", two[:1]))
	require.Equal(t, []string{"https://x/p#item-1", "https://x/p#item-2"}, sourceURLs("https://x/p", two))
	require.Empty(t, sourceURLs("https://x/p", nil))
}

func TestSourceURLsPreferItemLinks(t *testing.T) {
	t.Parallel()

	records := []parser.Record{
		{"title": "a", "link": "/p/2", "product_url": "/item/9"},
		{"title": "b", "link": "https://x/p/1", "product_url": "/item/8"},
	}
	require.Equal(t, []string{"https://x/item/9", "https://x/item/8"}, sourceURLs("https://x/list", records))

	reordered := []parser.Record{records[1], records[0]}
	require.Equal(t, []string{"https://x/item/8", "https://x/item/9"}, sourceURLs("https://x/list", reordered),
		"keys follow the item, not its position")

	dup := []parser.Record{{"url": "/same", "link": "/a"}, {"url": "/same", "link": "/b"}}
	require.Equal(t, []string{"https://x/a", "https://x/b"}, sourceURLs("https://x/list", dup))

	partial := []parser.Record{{"url": "/a"}, {"title": "no link"}}
	require.Equal(t, []string{"https://x/list#item-1", "https://x/list#item-2"}, sourceURLs("https://x/list", partial))
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.Error(t, err)
}

var _ IDs = idgen.Generator{}

func TestPrepareUsesStableSiteID(t *testing.T) {
	t.Parallel()

	h := newHarness(t, shopConfig(), nil, nil)
	run, err := h.orch.Prepare(context.Background(), "shop")
	require.NoError(t, err)
	require.Equal(t, idgen.NewGenerator().SiteID("shop"), run.Job.SiteID)
	require.NotEqual(t, uuid.Nil, run.Job.ID)
	require.Equal(t, store.JobStarted, run.Job.Status)
}

func TestDiscoverUsesServiceDepthDefault(t *testing.T) {
	t.Parallel()

	catalog, err := site.NewCatalog(shopConfig())
	require.NoError(t, err)
	discover := func(depth int) []string {
		orch, err := New(Config{MaxDepthDefault: depth}, Deps{
			Sites:   catalog,
			Store:   memory.NewStore(),
			Scraper: &fakeScraper{},
			Fetcher: linkFetcher{pages: shopPages()},
			Clock:   system.New(),
			IDs:     idgen.NewGenerator(),
		})
		require.NoError(t, err)
		var urls []string
		_, err = orch.Discover(context.Background(), "shop", func(_ context.Context, u string) error {
			urls = append(urls, u)
			return nil
		})
		require.NoError(t, err)
		return urls
	}

	shallow := discover(1)
	require.Contains(t, shallow, "https://shop.example.com/list")
	require.NotContains(t, shallow, "https://shop.example.com/item/1")

	require.Contains(t, discover(0), "https://shop.example.com/item/1", "zero falls back to the package default")
}
