// Package store defines the persistence contract for sites, jobs, scraped
// items and data quality issues. Implementations live in internal/storage;
// this package must not import database drivers or concrete clients.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrInvalidItem marks a scraped item rejected before a batch is written.
var ErrInvalidItem = errors.New("invalid scraped item")

// JobStatus mirrors the scrape_jobs.status column.
type JobStatus string

// Job statuses persisted in scrape_jobs.status.
const (
	JobStarted   JobStatus = "started"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStarted, JobCompleted, JobFailed:
		return true
	default:
		return false
	}
}

// Site is a row of the sites catalog.
type Site struct {
	ID         uuid.UUID  `json:"site_id"`
	Name       string     `json:"name"`
	ConfigPath string     `json:"config_file_path"`
	Active     bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// Job is one pipeline run for one site.
type Job struct {
	ID           uuid.UUID  `json:"job_id"`
	SiteID       uuid.UUID  `json:"site_id"`
	SiteName     string     `json:"site"`
	Status       JobStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ItemsScraped int        `json:"items_scraped"`
	LogSummary   string     `json:"log_summary,omitempty"`
}

// JobFilter narrows ListJobs. Zero values mean no filter.
type JobFilter struct {
	Site   string
	Status JobStatus
	Limit  int
	Offset int
}

// ScrapedItem is one stored record keyed by SourceURL.
type ScrapedItem struct {
	JobID     uuid.UUID
	SiteID    uuid.UUID
	SourceURL string
	ScrapedAt time.Time
	DataHash  string
	Data      map[string]any
}

// QualityIssue records one validation failure. Records that fail validation
// are not stored, so ScrapedDataID is usually nil.
type QualityIssue struct {
	ScrapedDataID *int64
	JobID         uuid.UUID
	SourceURL     string
	FieldName     string
	IssueType     string
	Details       string
}

// UpsertResult counts what a batch did.
type UpsertResult struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// Store persists pipeline output.
type Store interface {
	// UpsertScrapedItems writes a batch atomically. A row is updated only
	// when its data hash changed.
	UpsertScrapedItems(ctx context.Context, items []ScrapedItem) (UpsertResult, error)
	CreateJob(ctx context.Context, job Job) error
	FinishJob(ctx context.Context, jobID uuid.UUID, status JobStatus, itemCount int, summary string) error
	RecordQualityIssue(ctx context.Context, issue QualityIssue) error
	// GetJob returns ErrNotFound for unknown IDs.
	GetJob(ctx context.Context, jobID uuid.UUID) (Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	// UpsertSite inserts or refreshes a site by name and returns the stored row.
	UpsertSite(ctx context.Context, site Site) (Site, error)
	GetSite(ctx context.Context, name string) (Site, error)
	ListSites(ctx context.Context) ([]Site, error)
}

// BlobStore writes opaque objects and returns a URI for them.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// CheckItems rejects a batch containing an item without a source URL or
// hash, or two items sharing a source URL.
func CheckItems(items []ScrapedItem) error {
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item.SourceURL == "" {
			return fmt.Errorf("%w: item %d has no source_url", ErrInvalidItem, i)
		}
		if item.DataHash == "" {
			return fmt.Errorf("%w: item %d (%s) has no data_hash", ErrInvalidItem, i, item.SourceURL)
		}
		if _, dup := seen[item.SourceURL]; dup {
			return fmt.Errorf("%w: duplicate source_url %s", ErrInvalidItem, item.SourceURL)
		}
		seen[item.SourceURL] = struct{}{}
	}
	return nil
}

// DefaultListLimit caps list queries when no limit is given.
const DefaultListLimit = 50

// NormalizeLimit applies DefaultListLimit and a hard cap of 500.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > 500:
		return 500
	default:
		return limit
	}
}
