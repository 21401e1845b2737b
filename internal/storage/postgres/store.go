// Package postgres provides the Postgres-backed store.Store.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-acquirer/internal/store"
)

//go:embed schema.sql
var schema string

const itemColumns = 6

// maxBatchRows keeps one INSERT well under Postgres' 65535 bind-parameter limit.
const maxBatchRows = 1000

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements store.Store on Postgres.
type Store struct {
	pool      pool
	batchRows int
}

var _ store.Store = (*Store)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, batchRows: maxBatchRows}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p, batchRows: maxBatchRows}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertScrapedItems writes items in one transaction, issuing one INSERT
// per maxBatchRows items. Rows whose stored hash equals the incoming hash
// are left untouched.
func (s *Store) UpsertScrapedItems(ctx context.Context, items []store.ScrapedItem) (store.UpsertResult, error) {
	if len(items) == 0 {
		return store.UpsertResult{}, nil
	}
	if err := store.CheckItems(items); err != nil {
		return store.UpsertResult{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("begin upsert: %w", err)
	}
	result, err := s.upsertChunks(ctx, tx, items)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return store.UpsertResult{}, fmt.Errorf("upsert scraped items: %w (rollback: %v)", err, rbErr)
		}
		return store.UpsertResult{}, fmt.Errorf("upsert scraped items: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return store.UpsertResult{}, fmt.Errorf("commit upsert: %w", err)
	}
	result.Unchanged = len(items) - result.Inserted - result.Updated
	return result, nil
}

func (s *Store) upsertChunks(ctx context.Context, tx pgx.Tx, items []store.ScrapedItem) (store.UpsertResult, error) {
	size := s.batchRows
	if size <= 0 {
		size = maxBatchRows
	}
	var total store.UpsertResult
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		query, args, err := buildUpsert(items[start:end])
		if err != nil {
			return store.UpsertResult{}, err
		}
		result, err := runUpsert(ctx, tx, query, args)
		if err != nil {
			return store.UpsertResult{}, err
		}
		total.Inserted += result.Inserted
		total.Updated += result.Updated
	}
	return total, nil
}

func runUpsert(ctx context.Context, tx pgx.Tx, query string, args []any) (store.UpsertResult, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return store.UpsertResult{}, err
	}
	defer rows.Close()

	var result store.UpsertResult
	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			return store.UpsertResult{}, fmt.Errorf("scan upsert row: %w", err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	if err := rows.Err(); err != nil {
		return store.UpsertResult{}, err
	}
	return result, nil
}

func buildUpsert(items []store.ScrapedItem) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO scraped_data (job_id, site_id, source_url, scraped_at, data_hash, raw_data) VALUES ")
	args := make([]any, 0, len(items)*itemColumns)
	for i, item := range items {
		raw, err := json.Marshal(item.Data)
		if err != nil {
			return "", nil, fmt.Errorf("encode item %s: %w", item.SourceURL, err)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * itemColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, nullUUID(item.JobID), nullUUID(item.SiteID), item.SourceURL, item.ScrapedAt, item.DataHash, raw)
	}
	b.WriteString(` ON CONFLICT (source_url) DO UPDATE SET
		job_id = EXCLUDED.job_id,
		site_id = EXCLUDED.site_id,
		scraped_at = EXCLUDED.scraped_at,
		data_hash = EXCLUDED.data_hash,
		raw_data = EXCLUDED.raw_data
	WHERE scraped_data.data_hash IS DISTINCT FROM EXCLUDED.data_hash
	RETURNING (xmax = 0) AS inserted`)
	return b.String(), args, nil
}

// CreateJob inserts a job row.
func (s *Store) CreateJob(ctx context.Context, job store.Job) error {
	query := `
		INSERT INTO scrape_jobs (job_id, site_id, status, started_at)
		VALUES ($1, $2, $3, $4);
	`
	if _, err := s.pool.Exec(ctx, query, job.ID, job.SiteID, job.Status, job.StartedAt); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// FinishJob stamps the terminal status, item count and summary.
func (s *Store) FinishJob(ctx context.Context, jobID uuid.UUID, status store.JobStatus, itemCount int, summary string) error {
	if status != store.JobCompleted && status != store.JobFailed {
		return fmt.Errorf("finish job: status %q is not terminal", status)
	}
	query := `
		UPDATE scrape_jobs
		SET status = $1, finished_at = now(), items_scraped = $2, log_summary = $3
		WHERE job_id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, status, itemCount, summary, jobID)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordQualityIssue inserts one data quality issue.
func (s *Store) RecordQualityIssue(ctx context.Context, issue store.QualityIssue) error {
	query := `
		INSERT INTO data_quality_issues (scraped_data_id, job_id, source_url, field_name, issue_type, details)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := s.pool.Exec(ctx, query,
		issue.ScrapedDataID,
		nullUUID(issue.JobID),
		issue.SourceURL,
		issue.FieldName,
		issue.IssueType,
		issue.Details,
	)
	if err != nil {
		return fmt.Errorf("record quality issue: %w", err)
	}
	return nil
}

const jobColumns = `j.job_id, j.site_id, COALESCE(s.name, ''), j.status, j.started_at, j.finished_at, j.items_scraped, COALESCE(j.log_summary, '')`

// GetJob loads one job or returns store.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (store.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM scrape_jobs j
		LEFT JOIN sites s ON s.site_id = j.site_id
		WHERE j.job_id = $1;`
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Job{}, store.ErrNotFound
		}
		return store.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter store.JobFilter) ([]store.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM scrape_jobs j
		LEFT JOIN sites s ON s.site_id = j.site_id
		WHERE ($1::text = '' OR s.name = $1)
		  AND ($2::text = '' OR j.status = $2)
		ORDER BY j.started_at DESC
		LIMIT $3 OFFSET $4;`
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, query, filter.Site, string(filter.Status), store.NormalizeLimit(filter.Limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []store.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (store.Job, error) {
	var job store.Job
	err := row.Scan(
		&job.ID,
		&job.SiteID,
		&job.SiteName,
		&job.Status,
		&job.StartedAt,
		&job.FinishedAt,
		&job.ItemsScraped,
		&job.LogSummary,
	)
	return job, err
}

const siteColumns = `site_id, name, config_file_path, is_active, created_at, updated_at`

// UpsertSite inserts a site or refreshes its config path and active flag.
func (s *Store) UpsertSite(ctx context.Context, site store.Site) (store.Site, error) {
	if site.Name == "" {
		return store.Site{}, fmt.Errorf("upsert site: name is required")
	}
	if site.ID == uuid.Nil {
		return store.Site{}, fmt.Errorf("upsert site: id is required")
	}
	query := `
		INSERT INTO sites (site_id, name, config_file_path, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET config_file_path = EXCLUDED.config_file_path,
		    is_active = EXCLUDED.is_active,
		    updated_at = now()
		RETURNING ` + siteColumns + `;`
	saved, err := scanSite(s.pool.QueryRow(ctx, query, site.ID, site.Name, site.ConfigPath, site.Active))
	if err != nil {
		return store.Site{}, fmt.Errorf("upsert site: %w", err)
	}
	return saved, nil
}

// GetSite loads a site by name or returns store.ErrNotFound.
func (s *Store) GetSite(ctx context.Context, name string) (store.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE name = $1;`
	site, err := scanSite(s.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Site{}, store.ErrNotFound
		}
		return store.Site{}, fmt.Errorf("get site: %w", err)
	}
	return site, nil
}

// ListSites returns all sites ordered by name.
func (s *Store) ListSites(ctx context.Context) ([]store.Site, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+siteColumns+` FROM sites ORDER BY name;`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	sites := []store.Site{}
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site row: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return sites, nil
}

func scanSite(row pgx.Row) (store.Site, error) {
	var site store.Site
	err := row.Scan(&site.ID, &site.Name, &site.ConfigPath, &site.Active, &site.CreatedAt, &site.UpdatedAt)
	return site, err
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
