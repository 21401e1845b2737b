package pipeline

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/site-acquirer/internal/store"
)

// summary accumulates the counters written to scrape_jobs.log_summary.
type summary struct {
	crawled       int
	scraped       int
	offsite       int
	fetchFailures int
	hashFailures  int
	stored        int
	inserted      int
	updated       int
	unchanged     int
	issues        int
	err           error
}

func (s *summary) add(r store.UpsertResult) {
	s.inserted += r.Inserted
	s.updated += r.Updated
	s.unchanged += r.Unchanged
	s.stored += r.Inserted + r.Updated + r.Unchanged
}

func (s *summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pages_crawled=%d pages_scraped=%d offsite=%d fetch_failures=%d items=%d inserted=%d updated=%d unchanged=%d issues=%d",
		s.crawled, s.scraped, s.offsite, s.fetchFailures, s.stored, s.inserted, s.updated, s.unchanged, s.issues)
	if s.hashFailures > 0 {
		fmt.Fprintf(&b, " hash_failures=%d", s.hashFailures)
	}
	if s.err != nil {
		fmt.Fprintf(&b, " error=%q", s.err.Error())
	}
	return b.String()
}
