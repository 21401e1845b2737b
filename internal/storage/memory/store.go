// Package memory provides in-process implementations of the store contracts
// for tests, the crawl CLI, and runs without a database.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/site-acquirer/internal/store"
)

// Store keeps sites, jobs, items and issues in maps guarded by one mutex.
type Store struct {
	mu     sync.RWMutex
	now    func() time.Time
	sites  map[string]store.Site
	jobs   map[uuid.UUID]store.Job
	items  map[string]store.ScrapedItem
	issues []store.QualityIssue
}

var _ store.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		now:   func() time.Time { return time.Now().UTC() },
		sites: make(map[string]store.Site),
		jobs:  make(map[uuid.UUID]store.Job),
		items: make(map[string]store.ScrapedItem),
	}
}

// UpsertScrapedItems applies the batch atomically; items whose hash matches
// the stored one are counted as unchanged and left as they were.
func (s *Store) UpsertScrapedItems(_ context.Context, items []store.ScrapedItem) (store.UpsertResult, error) {
	if err := store.CheckItems(items); err != nil {
		return store.UpsertResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var result store.UpsertResult
	for _, item := range items {
		existing, ok := s.items[item.SourceURL]
		switch {
		case !ok:
			result.Inserted++
		case existing.DataHash == item.DataHash:
			result.Unchanged++
			continue
		default:
			result.Updated++
		}
		item.Data = maps.Clone(item.Data)
		s.items[item.SourceURL] = item
	}
	return result, nil
}

// Item returns the stored item for sourceURL.
func (s *Store) Item(sourceURL string) (store.ScrapedItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[sourceURL]
	return item, ok
}

// ItemCount reports how many items are stored.
func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, job store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// FinishJob marks a job terminal.
func (s *Store) FinishJob(_ context.Context, jobID uuid.UUID, status store.JobStatus, itemCount int, summary string) error {
	if status != store.JobCompleted && status != store.JobFailed {
		return fmt.Errorf("finish job: status %q is not terminal", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	finished := s.now()
	job.Status = status
	job.FinishedAt = &finished
	job.ItemsScraped = itemCount
	job.LogSummary = summary
	s.jobs[jobID] = job
	return nil
}

// RecordQualityIssue appends issue.
func (s *Store) RecordQualityIssue(_ context.Context, issue store.QualityIssue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues = append(s.issues, issue)
	return nil
}

// Issues returns a copy of the recorded issues.
func (s *Store) Issues() []store.QualityIssue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.QualityIssue, len(s.issues))
	copy(out, s.issues)
	return out
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID uuid.UUID) (store.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return store.Job{}, store.ErrNotFound
	}
	return s.withSiteName(job), nil
}

// ListJobs returns jobs newest first after filtering.
func (s *Store) ListJobs(_ context.Context, filter store.JobFilter) ([]store.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := []store.Job{}
	for _, job := range s.jobs {
		job = s.withSiteName(job)
		if filter.Site != "" && job.SiteName != filter.Site {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].StartedAt.Equal(jobs[j].StartedAt) {
			return jobs[i].ID.String() > jobs[j].ID.String()
		}
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})

	offset := max(filter.Offset, 0)
	if offset >= len(jobs) {
		return []store.Job{}, nil
	}
	end := min(offset+store.NormalizeLimit(filter.Limit), len(jobs))
	return jobs[offset:end], nil
}

func (s *Store) withSiteName(job store.Job) store.Job {
	if job.SiteName != "" {
		return job
	}
	for _, site := range s.sites {
		if site.ID == job.SiteID {
			job.SiteName = site.Name
			break
		}
	}
	return job
}

// UpsertSite inserts or refreshes a site by name. The first ID seen for a
// name is kept.
func (s *Store) UpsertSite(_ context.Context, site store.Site) (store.Site, error) {
	if site.Name == "" {
		return store.Site{}, fmt.Errorf("upsert site: name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.sites[site.Name]
	if !ok {
		if site.ID == uuid.Nil {
			return store.Site{}, fmt.Errorf("upsert site: id is required")
		}
		site.CreatedAt = now
		site.UpdatedAt = nil
		s.sites[site.Name] = site
		return site, nil
	}
	existing.ConfigPath = site.ConfigPath
	existing.Active = site.Active
	existing.UpdatedAt = &now
	s.sites[site.Name] = existing
	return existing, nil
}

// GetSite loads a site by name.
func (s *Store) GetSite(_ context.Context, name string) (store.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[name]
	if !ok {
		return store.Site{}, store.ErrNotFound
	}
	return site, nil
}

// ListSites returns sites ordered by name.
func (s *Store) ListSites(_ context.Context) ([]store.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sites := make([]store.Site, 0, len(s.sites))
	for _, site := range s.sites {
		sites = append(sites, site)
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].Name < sites[j].Name })
	return sites, nil
}
