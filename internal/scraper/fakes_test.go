package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	collyfetcher "github.com/JakeFAU/site-acquirer/internal/fetcher/colly"
	"github.com/JakeFAU/site-acquirer/internal/fetcher/headless"
	"github.com/JakeFAU/site-acquirer/internal/parser"
	"github.com/JakeFAU/site-acquirer/internal/retry"
	"github.com/JakeFAU/site-acquirer/internal/site"
)

func itemsHTML(titles ...string) string {
	out := "<html><body>"
	for i, title := range titles {
		out += fmt.Sprintf(`<div class="item"><h2>%s</h2><a href="/p/%d">more</a></div>`, title, i+1)
	}
	return out + "</body></html>"
}

func cssConfig(siteType string) site.Config {
	return site.Config{
		Name:       "shop",
		Type:       siteType,
		SeedURL:    "https://shop.example.com/list",
		ParserType: parser.TypeCSS,
		ParserConfig: map[string]any{
			"container": "div.item",
			"fields": map[string]any{
				"title": "h2",
				"link":  "a::attr(href)",
			},
		},
	}
}

func titles(records []parser.Record) []any {
	out := make([]any, 0, len(records))
	for _, r := range records {
		out = append(out, r["title"])
	}
	return out
}

func noWaitPolicy() *retry.Policy {
	return retry.New(retry.WithSleeper(func(context.Context, time.Duration) error { return nil }))
}

type fakeGetter struct {
	mu    sync.Mutex
	body  string
	fails int
	calls int
}

func (g *fakeGetter) Get(_ context.Context, url string) (collyfetcher.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.calls <= g.fails {
		return collyfetcher.Response{}, errors.New("connection refused")
	}
	return collyfetcher.Response{URL: url, StatusCode: 200, Body: []byte(g.body)}, nil
}

type fakeSession struct {
	mu          sync.Mutex
	pages       map[string]string
	navFails    map[string]int
	current     string
	clickPages  []string
	clicks      int
	heights     []int64
	heightCalls int
	scrolls     int
	navigations []string
	waited      []string
	closed      bool
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations = append(s.navigations, url)
	if s.navFails[url] > 0 {
		s.navFails[url]--
		return errors.New("net::ERR_CONNECTION_RESET")
	}
	if _, ok := s.pages[url]; !ok {
		return fmt.Errorf("no page %s", url)
	}
	s.current = url
	s.clicks = 0
	return nil
}

func (s *fakeSession) WaitVisible(_ context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waited = append(s.waited, selector)
	return nil
}

func (s *fakeSession) ScrollHeight(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heights) == 0 {
		return 100, nil
	}
	i := s.heightCalls
	if i >= len(s.heights) {
		i = len(s.heights) - 1
	}
	s.heightCalls++
	return s.heights[i], nil
}

func (s *fakeSession) ScrollToBottom(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrolls++
	return nil
}

func (s *fakeSession) Click(context.Context, string) (headless.ClickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clicks >= len(s.clickPages) {
		return headless.ClickDisabled, nil
	}
	s.clicks++
	return headless.Clicked, nil
}

func (s *fakeSession) HTML(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clicks > 0 {
		return s.clickPages[s.clicks-1], nil
	}
	return s.pages[s.current], nil
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

type fakeLauncher struct {
	session *fakeSession
	err     error
}

func (l *fakeLauncher) NewSession(context.Context) (headless.Session, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return nil
}

func (r *sleepRecorder) count(d time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

type pageLog struct {
	mu   sync.Mutex
	urls []string
}

func (p *pageLog) RecordPage(_ context.Context, _, url string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls = append(p.urls, url)
	return nil
}

func newTestRendered(session *fakeSession) (*Rendered, *sleepRecorder) {
	rec := &sleepRecorder{}
	r := NewRendered(&fakeLauncher{session: session}, parser.NewDefaultRegistry(nil), noWaitPolicy(), nil, nil)
	r.sleep = rec.sleep
	return r, rec
}

func floatPtr(v float64) *float64 { return &v }
