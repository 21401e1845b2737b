package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-acquirer/internal/metrics"
)

const (
	// DefaultUserAgent identifies the crawler to robots.txt and servers.
	DefaultUserAgent = "SiteAcquirer/1.0"
	// DefaultRateLimit is the minimum spacing between fetches to one domain.
	DefaultRateLimit = time.Second
)

// PolitenessConfig configures robots enforcement and per-domain pacing.
type PolitenessConfig struct {
	UserAgent     string
	RateLimit     time.Duration
	RespectRobots bool
	// RobotsScheme is the scheme used to fetch robots.txt; defaults to https.
	RobotsScheme string
	Client       *http.Client
}

// Politeness owns the per-domain robots policy cache and fetch clock for one run.
type Politeness struct {
	cfg    PolitenessConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	robots  sync.Map // domain -> *robotstxt.RobotsData, nil entry means allow all
	mu      sync.Mutex
	domains map[string]*domainClock
}

type domainClock struct {
	mu        sync.Mutex
	lastFetch time.Time
}

// NewPoliteness builds a controller; zero-valued fields take defaults.
func NewPoliteness(cfg PolitenessConfig, logger *zap.Logger) *Politeness {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RobotsScheme == "" {
		cfg.RobotsScheme = "https"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Politeness{
		cfg:     cfg,
		client:  client,
		logger:  logger,
		now:     time.Now,
		domains: make(map[string]*domainClock),
	}
}

// CanFetch reports whether robots.txt for domain permits rawURL.
// The policy is fetched once per domain; failures allow and are logged.
func (p *Politeness) CanFetch(ctx context.Context, domain, rawURL string) bool {
	if !p.cfg.RespectRobots {
		return true
	}
	data := p.policy(ctx, domain)
	if data == nil {
		return true
	}
	target := "/"
	if u, err := url.Parse(rawURL); err == nil {
		target = u.RequestURI()
	}
	return data.TestAgent(target, p.cfg.UserAgent)
}

func (p *Politeness) policy(ctx context.Context, domain string) *robotstxt.RobotsData {
	key := strings.ToLower(domain)
	if cached, ok := p.robots.Load(key); ok {
		data, _ := cached.(*robotstxt.RobotsData)
		return data
	}
	data, err := p.load(ctx, key)
	if err != nil {
		p.logger.Warn("robots fetch failed; allowing access", zap.String("domain", domain), zap.Error(err))
		data = nil
	}
	actual, _ := p.robots.LoadOrStore(key, data)
	stored, _ := actual.(*robotstxt.RobotsData)
	return stored
}

func (p *Politeness) load(ctx context.Context, domain string) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: p.cfg.RobotsScheme, Host: domain, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.Debug("close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("fetch robots: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

// Throttle blocks until RateLimit has elapsed since the domain's last fetch,
// then records now as the domain's fetch time. Callers for the same domain
// are serialized; different domains never wait on each other.
func (p *Politeness) Throttle(ctx context.Context, domain string) error {
	clock := p.clock(domain)
	clock.mu.Lock()
	defer clock.mu.Unlock()

	if !clock.lastFetch.IsZero() {
		wait := p.cfg.RateLimit - p.now().Sub(clock.lastFetch)
		if wait > 0 {
			p.logger.Debug("rate limiting domain", zap.String("domain", domain), zap.Duration("sleep", wait))
			if err := sleep(ctx, wait); err != nil {
				return err
			}
			metrics.ObserveRateLimitDelay(domain, wait)
		}
	}
	clock.lastFetch = p.now()
	return nil
}

// LastFetch returns the recorded fetch time for domain.
func (p *Politeness) LastFetch(domain string) time.Time {
	clock := p.clock(domain)
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.lastFetch
}

func (p *Politeness) clock(domain string) *domainClock {
	key := strings.ToLower(domain)
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.domains[key]
	if !ok {
		c = &domainClock{}
		p.domains[key] = c
	}
	return c
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("throttle canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
