// Package publisher defines the job-finished event and its sinks.
package publisher

import (
	"context"
	"time"
)

// JobEvent announces that a pipeline run reached a terminal status.
type JobEvent struct {
	JobID        string    `json:"job_id"`
	Site         string    `json:"site"`
	Status       string    `json:"status"`
	ItemsScraped int       `json:"items_scraped"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Publisher delivers job events.
type Publisher interface {
	Publish(ctx context.Context, event JobEvent) error
}

// Nop drops every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, JobEvent) error { return nil }
