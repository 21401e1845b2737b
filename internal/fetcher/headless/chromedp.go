// Package headless drives a headless Chrome through chromedp for script-rendered pages.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	// DefaultNavigationTimeout bounds Navigate.
	DefaultNavigationTimeout = 60 * time.Second
	// DefaultWaitForTimeout bounds WaitVisible.
	DefaultWaitForTimeout = 30 * time.Second
)

// ErrDisabled is returned when rendering is not configured.
var ErrDisabled = errors.New("headless rendering disabled")

// ClickResult reports the outcome of a "next" click.
type ClickResult int

const (
	// ClickMissing means no element matched the selector.
	ClickMissing ClickResult = iota
	// ClickDisabled means the element was found but disabled.
	ClickDisabled
	// Clicked means the element was clicked.
	Clicked
)

// Session is a single rendered browser tab.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	ScrollHeight(ctx context.Context) (int64, error)
	ScrollToBottom(ctx context.Context) error
	Click(ctx context.Context, selector string) (ClickResult, error)
	HTML(ctx context.Context) (string, error)
	Close()
}

// Launcher opens sessions.
type Launcher interface {
	NewSession(ctx context.Context) (Session, error)
}

// Config controls the headless browser.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	WaitForTimeout    time.Duration
	ExecPath          string
	NoSandbox         bool
}

// Browser launches a fresh Chrome per session through an exec allocator.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a Browser backed by chromedp.
func NewChromedp(cfg Config) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if cfg.WaitForTimeout <= 0 {
		cfg.WaitForTimeout = DefaultWaitForTimeout
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (b *Browser) Close() {
	b.allocCancel()
}

// NewSession starts a browser and opens a tab. Callers must Close the session.
func (b *Browser) NewSession(ctx context.Context) (Session, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(b.allocator)
	s := &chromeSession{
		tab:     tabCtx,
		cancel:  tabCancel,
		cfg:     b.cfg,
		release: b.release,
	}
	if err := chromedp.Run(tabCtx, s.setupAction()); err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return s, nil
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

type chromeSession struct {
	tab     context.Context
	cancel  context.CancelFunc
	cfg     Config
	release func()
	once    sync.Once
}

func (s *chromeSession) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *chromeSession) WaitVisible(ctx context.Context, selector string) error {
	if err := s.run(ctx, s.cfg.WaitForTimeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

func (s *chromeSession) ScrollHeight(ctx context.Context) (int64, error) {
	var height float64
	if err := s.run(ctx, s.cfg.WaitForTimeout, chromedp.Evaluate(`document.body.scrollHeight`, &height)); err != nil {
		return 0, fmt.Errorf("read scroll height: %w", err)
	}
	return int64(height), nil
}

func (s *chromeSession) ScrollToBottom(ctx context.Context) error {
	if err := s.run(ctx, s.cfg.WaitForTimeout,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
	); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

func (s *chromeSession) Click(ctx context.Context, selector string) (ClickResult, error) {
	script, err := clickScript(selector)
	if err != nil {
		return ClickMissing, err
	}
	var outcome string
	if err := s.run(ctx, s.cfg.WaitForTimeout, chromedp.Evaluate(script, &outcome)); err != nil {
		return ClickMissing, fmt.Errorf("click %q: %w", selector, err)
	}
	return parseClickOutcome(outcome), nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Close shuts the tab and its browser and frees the parallelism slot.
func (s *chromeSession) Close() {
	s.once.Do(func() {
		s.cancel()
		if s.release != nil {
			s.release()
		}
	})
}

func clickScript(selector string) (string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return "", fmt.Errorf("encode selector: %w", err)
	}
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return "missing";
  if (el.disabled || el.hasAttribute("disabled") || el.getAttribute("aria-disabled") === "true") return "disabled";
  el.click();
  return "clicked";
})()`, quoted), nil
}

func parseClickOutcome(outcome string) ClickResult {
	switch outcome {
	case "clicked":
		return Clicked
	case "disabled":
		return ClickDisabled
	default:
		return ClickMissing
	}
}

// Disabled is a Launcher that always fails, used when headless.enabled is false.
type Disabled struct{}

// NewSession returns ErrDisabled.
func (Disabled) NewSession(context.Context) (Session, error) {
	return nil, ErrDisabled
}
