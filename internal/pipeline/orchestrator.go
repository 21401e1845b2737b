// Package pipeline runs one acquisition job for one site: crawl the seed,
// scrape each on-site page, transform, validate, hash and store the records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-acquirer/internal/crawler"
	"github.com/JakeFAU/site-acquirer/internal/metrics"
	"github.com/JakeFAU/site-acquirer/internal/parser"
	"github.com/JakeFAU/site-acquirer/internal/publisher"
	"github.com/JakeFAU/site-acquirer/internal/site"
	"github.com/JakeFAU/site-acquirer/internal/store"
)

// finishTimeout bounds the bookkeeping writes made after the run context ends.
const finishTimeout = 10 * time.Second

// SiteSource resolves a site config by name.
type SiteSource interface {
	Get(name string) (site.Config, error)
}

// Scraper extracts records from one URL of a site.
type Scraper interface {
	ScrapeSite(ctx context.Context, cfg site.Config, url string) ([]parser.Record, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// IDs mints job IDs and stable site IDs.
type IDs interface {
	JobID() (uuid.UUID, error)
	SiteID(name string) uuid.UUID
}

// Config holds run-wide settings.
type Config struct {
	// RunTimeout bounds a whole job; zero means no limit.
	RunTimeout time.Duration
	// MaxDepthDefault applies to sites without crawler_settings.max_depth;
	// zero takes site.DefaultMaxDepth.
	MaxDepthDefault int
	Politeness      crawler.PolitenessConfig
}

// Deps are the collaborators of an Orchestrator. Publisher may be nil.
type Deps struct {
	Sites     SiteSource
	Store     store.Store
	Scraper   Scraper
	Fetcher   crawler.PageFetcher
	Publisher publisher.Publisher
	Clock     Clock
	IDs       IDs
	Logger    *zap.Logger
}

// Orchestrator owns the per-run wiring of crawler, scraper and store.
type Orchestrator struct {
	cfg       Config
	sites     SiteSource
	store     store.Store
	scraper   Scraper
	fetcher   crawler.PageFetcher
	publisher publisher.Publisher
	clock     Clock
	ids       IDs
	logger    *zap.Logger
}

// Run is a job that has been created but not yet executed.
type Run struct {
	Job  store.Job
	Site site.Config
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Sites == nil:
		return nil, errors.New("site source is required")
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Scraper == nil:
		return nil, errors.New("scraper is required")
	case deps.Fetcher == nil:
		return nil, errors.New("page fetcher is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = publisher.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		sites:     deps.Sites,
		store:     deps.Store,
		scraper:   deps.Scraper,
		fetcher:   deps.Fetcher,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		ids:       deps.IDs,
		logger:    deps.Logger,
	}, nil
}

// Run prepares and executes a job synchronously.
func (o *Orchestrator) Run(ctx context.Context, siteName string) (store.Job, error) {
	run, err := o.Prepare(ctx, siteName)
	if err != nil {
		return store.Job{}, err
	}
	return o.Execute(ctx, run)
}

// Prepare resolves and checks the site config, registers the site and
// creates the job in started status. Nothing is fetched.
func (o *Orchestrator) Prepare(ctx context.Context, siteName string) (Run, error) {
	cfg, err := o.sites.Get(siteName)
	if err != nil {
		return Run{}, fmt.Errorf("load site config: %w", err)
	}
	if err := checkConfig(cfg); err != nil {
		return Run{}, fmt.Errorf("%w: %s: %w", site.ErrInvalidConfig, siteName, err)
	}

	siteRow, err := o.store.UpsertSite(ctx, store.Site{
		ID:         o.ids.SiteID(cfg.Name),
		Name:       cfg.Name,
		ConfigPath: cfg.Path,
		Active:     true,
	})
	if err != nil {
		return Run{}, fmt.Errorf("register site: %w", err)
	}
	jobID, err := o.ids.JobID()
	if err != nil {
		return Run{}, err
	}
	job := store.Job{
		ID:        jobID,
		SiteID:    siteRow.ID,
		SiteName:  cfg.Name,
		Status:    store.JobStarted,
		StartedAt: o.clock.Now(),
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return Run{}, fmt.Errorf("create job: %w", err)
	}
	o.logger.Info("job created", zap.String("site", cfg.Name), zap.String("job_id", job.ID.String()))
	return Run{Job: job, Site: cfg}, nil
}

// Execute crawls and scrapes the run's site and finishes its job. The
// returned error is non-nil exactly when the job ended as failed; batches
// committed before the failure stay stored.
func (o *Orchestrator) Execute(ctx context.Context, run Run) (store.Job, error) {
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}
	logger := o.logger.With(zap.String("site", run.Site.Name), zap.String("job_id", run.Job.ID.String()))
	logger.Info("job started", zap.String("seed", run.Site.SeedURL))

	tally := &summary{}
	runErr := o.crawlAndStore(ctx, run, tally, logger)

	job := run.Job
	job.Status = store.JobCompleted
	if runErr != nil {
		job.Status = store.JobFailed
		tally.err = runErr
	}
	job.ItemsScraped = tally.stored
	job.LogSummary = tally.String()
	finished := o.clock.Now()
	job.FinishedAt = &finished

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err := o.store.FinishJob(finishCtx, job.ID, job.Status, job.ItemsScraped, job.LogSummary); err != nil {
		logger.Error("finish job", zap.Error(err))
		runErr = errors.Join(runErr, fmt.Errorf("finish job: %w", err))
		job.Status = store.JobFailed
	}
	metrics.ObserveJob(string(job.Status))
	o.announce(finishCtx, job, logger)

	if runErr != nil {
		logger.Error("job failed", zap.String("summary", job.LogSummary), zap.Error(runErr))
		return job, fmt.Errorf("job %s failed: %w", job.ID, runErr)
	}
	logger.Info("job completed", zap.String("summary", job.LogSummary))
	return job, nil
}

// Abort finishes a prepared run as failed without executing it.
func (o *Orchestrator) Abort(ctx context.Context, run Run, reason error) error {
	tally := &summary{err: reason}
	if err := o.store.FinishJob(ctx, run.Job.ID, store.JobFailed, 0, tally.String()); err != nil {
		return fmt.Errorf("abort job: %w", err)
	}
	metrics.ObserveJob(string(store.JobFailed))
	job := run.Job
	job.Status = store.JobFailed
	finished := o.clock.Now()
	job.FinishedAt = &finished
	o.announce(ctx, job, o.logger)
	return nil
}

// Discover crawls a site and reports every committed URL without scraping
// or storing anything.
func (o *Orchestrator) Discover(ctx context.Context, siteName string, emit crawler.EmitFunc) (crawler.Stats, error) {
	cfg, err := o.sites.Get(siteName)
	if err != nil {
		return crawler.Stats{}, fmt.Errorf("load site config: %w", err)
	}
	if err := checkConfig(cfg); err != nil {
		return crawler.Stats{}, fmt.Errorf("%w: %s: %w", site.ErrInvalidConfig, siteName, err)
	}
	engine, err := o.engine(cfg, o.logger.With(zap.String("site", cfg.Name)))
	if err != nil {
		return crawler.Stats{}, err
	}
	return engine.Crawl(ctx, []string{cfg.SeedURL}, emit)
}

func (o *Orchestrator) crawlAndStore(ctx context.Context, run Run, tally *summary, logger *zap.Logger) error {
	engine, err := o.engine(run.Site, logger)
	if err != nil {
		return err
	}
	seedHost := run.Site.SeedHost()
	stats, err := engine.Crawl(ctx, []string{run.Site.SeedURL}, func(ctx context.Context, url string) error {
		if crawler.Domain(url) != seedHost {
			tally.offsite++
			logger.Debug("no site config for host", zap.String("url", url))
			return nil
		}
		return o.processPage(ctx, run, url, tally, logger)
	})
	tally.crawled = stats.Visited
	tally.fetchFailures = stats.Failed
	return err
}

// processPage scrapes one URL and stores its valid records as one batch.
func (o *Orchestrator) processPage(ctx context.Context, run Run, url string, tally *summary, logger *zap.Logger) error {
	records, err := o.scraper.ScrapeSite(ctx, run.Site, url)
	if err != nil {
		return fmt.Errorf("scrape %s: %w", url, err)
	}
	tally.scraped++
	if len(records) == 0 {
		logger.Debug("no records", zap.String("url", url))
		return nil
	}

	// Keyed before transforms, which may drop the link field.
	sources := sourceURLs(url, records)
	records = transformRecords(records, run.Site)
	rejected, err := o.recordIssues(ctx, run, records, sources, tally)
	if err != nil {
		return err
	}

	scrapedAt := o.clock.Now()
	items := make([]store.ScrapedItem, 0, len(records))
	for i, record := range records {
		if rejected[i] {
			continue
		}
		item, err := newItem(run.Job, sources[i], scrapedAt, record)
		if err != nil {
			tally.hashFailures++
			logger.Warn("hash record", zap.String("url", sources[i]), zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil
	}

	result, err := o.store.UpsertScrapedItems(ctx, items)
	if err != nil {
		return fmt.Errorf("store items from %s: %w", url, err)
	}
	tally.add(result)
	metrics.ObserveStored(run.Site.Name, "inserted", result.Inserted)
	metrics.ObserveStored(run.Site.Name, "updated", result.Updated)
	metrics.ObserveStored(run.Site.Name, "unchanged", result.Unchanged)
	logger.Info("stored items",
		zap.String("url", url),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
	)
	return nil
}

// recordIssues validates records and persists each violation. It returns
// the indexes of records that failed at least one rule.
func (o *Orchestrator) recordIssues(ctx context.Context, run Run, records []parser.Record, sources []string, tally *summary) (map[int]bool, error) {
	issues := validateRecords(records, run.Site)
	tally.issues += len(issues)
	rejected := make(map[int]bool, len(issues))
	for _, issue := range issues {
		rejected[issue.Index] = true
		err := o.store.RecordQualityIssue(ctx, store.QualityIssue{
			JobID:     run.Job.ID,
			SourceURL: sources[issue.Index],
			FieldName: issue.Field,
			IssueType: issue.Type,
			Details:   issue.Details,
		})
		if err != nil {
			return nil, fmt.Errorf("record quality issue: %w", err)
		}
	}
	return rejected, nil
}

func (o *Orchestrator) engine(cfg site.Config, logger *zap.Logger) (*crawler.Engine, error) {
	filter, err := crawler.NewFilter(cfg.Crawler.URLPatterns, cfg.Crawler.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	strategy, err := crawler.ParseStrategy(cfg.Crawler.Strategy)
	if err != nil {
		return nil, err
	}
	politeness := crawler.NewPoliteness(o.cfg.Politeness, logger)
	return crawler.NewEngine(crawler.Config{
		Site:     cfg.Name,
		MaxDepth: cfg.MaxDepthOr(o.maxDepthDefault()),
		Strategy: strategy,
	}, filter, politeness, o.fetcher, logger)
}

func (o *Orchestrator) maxDepthDefault() int {
	if o.cfg.MaxDepthDefault > 0 {
		return o.cfg.MaxDepthDefault
	}
	return site.DefaultMaxDepth
}

func (o *Orchestrator) announce(ctx context.Context, job store.Job, logger *zap.Logger) {
	event := publisher.JobEvent{
		JobID:        job.ID.String(),
		Site:         job.SiteName,
		Status:       string(job.Status),
		ItemsScraped: job.ItemsScraped,
	}
	if job.FinishedAt != nil {
		event.FinishedAt = *job.FinishedAt
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		logger.Warn("publish job event", zap.Error(err))
	}
}
