package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-acquirer/internal/store"
)

func item(url, hash, title string) store.ScrapedItem {
	return store.ScrapedItem{SourceURL: url, DataHash: hash, Data: map[string]any{"title": title}}
}

func TestUpsertScrapedItemsSkipsUnchangedHashes(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	res, err := s.UpsertScrapedItems(ctx, []store.ScrapedItem{
		item("https://a.example.com/1", "h1", "one"),
		item("https://a.example.com/2", "h2", "two"),
	})
	require.NoError(t, err)
	require.Equal(t, store.UpsertResult{Inserted: 2}, res)

	first, _ := s.Item("https://a.example.com/1")
	changed := item("https://a.example.com/2", "h2b", "two!")
	same := item("https://a.example.com/1", "h1", "one")
	same.ScrapedAt = time.Unix(1800000000, 0)

	res, err = s.UpsertScrapedItems(ctx, []store.ScrapedItem{same, changed})
	require.NoError(t, err)
	require.Equal(t, store.UpsertResult{Updated: 1, Unchanged: 1}, res)

	kept, _ := s.Item("https://a.example.com/1")
	require.Equal(t, first.ScrapedAt, kept.ScrapedAt, "unchanged rows keep their timestamp")
	updated, _ := s.Item("https://a.example.com/2")
	require.Equal(t, "two!", updated.Data["title"])
	require.Equal(t, 2, s.ItemCount())
}

func TestUpsertScrapedItemsRejectsWholeBatch(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, err := s.UpsertScrapedItems(context.Background(), []store.ScrapedItem{
		item("https://a.example.com/1", "h1", "one"),
		item("", "h2", "two"),
	})
	require.ErrorIs(t, err, store.ErrInvalidItem)
	require.Zero(t, s.ItemCount())
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	site, err := s.UpsertSite(ctx, store.Site{ID: uuid.New(), Name: "books", Active: true})
	require.NoError(t, err)

	job := store.Job{ID: uuid.New(), SiteID: site.ID, Status: store.JobStarted, StartedAt: time.Now()}
	require.NoError(t, s.CreateJob(ctx, job))
	require.Error(t, s.CreateJob(ctx, job))

	require.NoError(t, s.FinishJob(ctx, job.ID, store.JobCompleted, 7, "pages=2"))
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, store.JobCompleted, got.Status)
	require.Equal(t, 7, got.ItemsScraped)
	require.Equal(t, "books", got.SiteName)
	require.NotNil(t, got.FinishedAt)

	require.ErrorIs(t, s.FinishJob(ctx, uuid.New(), store.JobFailed, 0, ""), store.ErrNotFound)
	require.Error(t, s.FinishJob(ctx, job.ID, store.JobStarted, 0, ""))
	_, err = s.GetJob(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListJobsNewestFirstWithFilters(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	a, _ := s.UpsertSite(ctx, store.Site{ID: uuid.New(), Name: "a"})
	b, _ := s.UpsertSite(ctx, store.Site{ID: uuid.New(), Name: "b"})

	for i, siteID := range []uuid.UUID{a.ID, b.ID, a.ID} {
		require.NoError(t, s.CreateJob(ctx, store.Job{
			ID: uuid.New(), SiteID: siteID, Status: store.JobStarted, StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.True(t, all[0].StartedAt.After(all[1].StartedAt))

	onlyA, err := s.ListJobs(ctx, store.JobFilter{Site: "a"})
	require.NoError(t, err)
	require.Len(t, onlyA, 2)

	page, err := s.ListJobs(ctx, store.JobFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, all[1].ID, page[0].ID)

	empty, err := s.ListJobs(ctx, store.JobFilter{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestUpsertSiteKeepsFirstID(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	first, err := s.UpsertSite(ctx, store.Site{ID: uuid.New(), Name: "books", ConfigPath: "v1.yaml", Active: true})
	require.NoError(t, err)
	require.Nil(t, first.UpdatedAt)

	second, err := s.UpsertSite(ctx, store.Site{ID: uuid.New(), Name: "books", ConfigPath: "v2.yaml"})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "v2.yaml", second.ConfigPath)
	require.False(t, second.Active)
	require.NotNil(t, second.UpdatedAt)

	sites, err := s.ListSites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 1)

	_, err = s.GetSite(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordQualityIssue(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.NoError(t, s.RecordQualityIssue(context.Background(), store.QualityIssue{FieldName: "price", IssueType: "required"}))
	require.Len(t, s.Issues(), 1)
}
