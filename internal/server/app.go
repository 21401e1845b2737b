// Package server builds the application graph from configuration and runs
// the HTTP API alongside the background dispatcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-acquirer/internal/api"
	"github.com/JakeFAU/site-acquirer/internal/archive"
	"github.com/JakeFAU/site-acquirer/internal/clock/system"
	"github.com/JakeFAU/site-acquirer/internal/config"
	"github.com/JakeFAU/site-acquirer/internal/crawler"
	"github.com/JakeFAU/site-acquirer/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/site-acquirer/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/site-acquirer/internal/fetcher/headless"
	"github.com/JakeFAU/site-acquirer/internal/id/uuid"
	"github.com/JakeFAU/site-acquirer/internal/llm/anthropic"
	"github.com/JakeFAU/site-acquirer/internal/parser"
	"github.com/JakeFAU/site-acquirer/internal/pipeline"
	"github.com/JakeFAU/site-acquirer/internal/policy/ratelimit"
	"github.com/JakeFAU/site-acquirer/internal/publisher"
	memorypublisher "github.com/JakeFAU/site-acquirer/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/site-acquirer/internal/publisher/pubsub"
	"github.com/JakeFAU/site-acquirer/internal/retry"
	"github.com/JakeFAU/site-acquirer/internal/scraper"
	"github.com/JakeFAU/site-acquirer/internal/site"
	gcsstorage "github.com/JakeFAU/site-acquirer/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-acquirer/internal/storage/local"
	memorystorage "github.com/JakeFAU/site-acquirer/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-acquirer/internal/storage/postgres"
	"github.com/JakeFAU/site-acquirer/internal/store"
)

const shutdownTimeout = 10 * time.Second

// App holds the long-lived services of one process.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	catalog      *site.Catalog
	store        store.Store
	orchestrator *pipeline.Orchestrator
	closers      []closer
	readiness    []api.ReadyCheck
}

type closer struct {
	name string
	fn   func() error
}

// Build wires every dependency named by cfg. Close must be called on the
// returned App even when later steps fail.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}

	catalog, err := site.LoadDir(cfg.Sites.Dir)
	if err != nil {
		return app, fmt.Errorf("load sites: %w", err)
	}
	app.catalog = catalog
	logger.Info("sites loaded", zap.String("dir", cfg.Sites.Dir), zap.Int("count", len(catalog.List())))

	if app.store, err = app.setupStore(ctx); err != nil {
		return app, err
	}
	blobs, err := app.setupArchive(ctx)
	if err != nil {
		return app, err
	}
	events, err := app.setupPublisher(ctx)
	if err != nil {
		return app, err
	}

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.HTTP.RequestsPerSecond})
	timeout := time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   timeout,
		Limiter:   limiter,
	})
	// Item pages are fetched as a browser would; discovery identifies itself.
	pageFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: scraper.BrowserUserAgent,
		Timeout:   timeout,
		Limiter:   limiter,
	})
	router, err := app.setupScrapers(pageFetcher, archive.New(blobs, cfg.Archive.Prefix, logger.Named("archive")))
	if err != nil {
		return app, err
	}

	app.orchestrator, err = pipeline.New(pipeline.Config{
		RunTimeout:      cfg.Pipeline.RunTimeout(),
		MaxDepthDefault: cfg.Crawler.MaxDepthDefault,
		Politeness: crawler.PolitenessConfig{
			UserAgent:     cfg.Crawler.UserAgent,
			RateLimit:     cfg.Crawler.RateLimit(),
			RespectRobots: cfg.Crawler.RespectRobots,
			RobotsScheme:  cfg.Crawler.RobotsScheme,
			Client:        &http.Client{Timeout: time.Duration(cfg.Crawler.FetchTimeoutSeconds) * time.Second},
		},
	}, pipeline.Deps{
		Sites:     catalog,
		Store:     app.store,
		Scraper:   router,
		Fetcher:   fetcher,
		Publisher: events,
		Clock:     system.New(),
		IDs:       uuid.NewGenerator(),
		Logger:    logger.Named("pipeline"),
	})
	if err != nil {
		return app, fmt.Errorf("build pipeline: %w", err)
	}
	return app, nil
}

func (a *App) setupStore(ctx context.Context) (store.Store, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no db.dsn configured, using in-memory store")
		return memorystorage.NewStore(), nil
	}
	pg, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.ConnMaxLifetime(),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	a.closers = append(a.closers, closer{name: "postgres", fn: func() error { pg.Close(); return nil }})
	a.readiness = append(a.readiness, pg.Ping)
	if a.cfg.DB.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	a.logger.Info("postgres store initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return pg, nil
}

func (a *App) setupArchive(ctx context.Context) (store.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.BackendGCS:
		blobs, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.closers = append(a.closers, closer{name: "gcs", fn: blobs.Close})
		a.logger.Info("archiving pages to gcs", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return blobs, nil
	case config.BackendLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving pages to disk", zap.String("path", a.cfg.Archive.BaseDir))
		return blobs, nil
	case config.BackendMemory:
		a.logger.Info("archiving pages in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (publisher.Publisher, error) {
	switch a.cfg.Events.Backend {
	case config.BackendPubSub:
		pub, err := gcppublisher.New(ctx, gcppublisher.Config{
			ProjectID: a.cfg.Events.ProjectID,
			Topic:     a.cfg.Events.Topic,
		})
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.closers = append(a.closers, closer{name: "pubsub", fn: pub.Close})
		a.logger.Info("publishing job events",
			zap.String("project", a.cfg.Events.ProjectID),
			zap.String("topic", a.cfg.Events.Topic),
		)
		return pub, nil
	case config.BackendMemory:
		return memorypublisher.New(), nil
	default:
		return publisher.Nop{}, nil
	}
}

func (a *App) setupScrapers(fetcher *collyfetcher.Fetcher, recorder scraper.PageRecorder) (*scraper.Router, error) {
	var completer parser.Completer
	if a.cfg.AI.APIKey != "" {
		c, err := anthropic.New(anthropic.Config{
			APIKey:    a.cfg.AI.APIKey,
			MaxTokens: a.cfg.AI.MaxTokens,
			BaseURL:   a.cfg.AI.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("ai completer init failed: %w", err)
		}
		completer = c
	} else {
		a.logger.Warn("no ai.api_key configured, ai parser returns no records")
	}
	parsers := parser.NewDefaultRegistry(parser.NewAI(completer, a.cfg.AI.MaxContentChars, a.logger.Named("parser.ai")))

	policy := retry.New(
		retry.WithAttempts(a.cfg.HTTP.MaxRetries),
		retry.WithBaseDelay(time.Duration(a.cfg.HTTP.BackoffInitialMs)*time.Millisecond),
		retry.WithMaxDelay(time.Duration(a.cfg.HTTP.BackoffMaxMs)*time.Millisecond),
	)

	var launcher headlessfetcher.Launcher = headlessfetcher.Disabled{}
	if a.cfg.Headless.Enabled {
		browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         scraper.BrowserUserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSeconds) * time.Second,
			WaitForTimeout:    time.Duration(a.cfg.Headless.WaitForTimeoutSeconds) * time.Second,
			ExecPath:          a.cfg.Headless.ExecPath,
			NoSandbox:         a.cfg.Headless.NoSandbox,
		})
		if err != nil {
			return nil, fmt.Errorf("headless browser init failed: %w", err)
		}
		a.closers = append(a.closers, closer{name: "headless", fn: func() error { browser.Close(); return nil }})
		launcher = browser
		a.logger.Info("headless rendering enabled", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}

	router := scraper.NewRouter(a.logger.Named("scraper"))
	router.Register(site.TypeHTML, scraper.NewStatic(fetcher, parsers, policy, recorder, a.logger.Named("scraper.static")))
	router.Register(site.TypeSPA, scraper.NewRendered(launcher, parsers, policy, recorder, a.logger.Named("scraper.rendered")))
	return router, nil
}

// Orchestrator returns the pipeline used for runs.
func (a *App) Orchestrator() *pipeline.Orchestrator {
	return a.orchestrator
}

// Catalog returns the loaded site configs.
func (a *App) Catalog() *site.Catalog {
	return a.catalog
}

// Serve starts the dispatcher and the HTTP server and blocks until ctx is
// canceled or the server fails.
func (a *App) Serve(ctx context.Context) error {
	dispatch, err := dispatcher.New(dispatcher.Config{
		Workers:    a.cfg.Pipeline.Workers,
		QueueDepth: a.cfg.Pipeline.QueueDepth,
	}, a.orchestrator, a.logger.Named("dispatcher"))
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Pipeline.Workers))
		dispatch.Run(ctx)
	}()

	apiServer := api.NewServer(a.catalog, a.store, dispatch, a.cfg, a.logger.Named("api"), a.readiness...)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		a.logger.Error("server shutdown error", zap.Error(shutdownErr))
	}
	stop()
	<-done
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Close releases infrastructure in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
