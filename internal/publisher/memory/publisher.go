// Package memory records job events in process.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/site-acquirer/internal/publisher"
)

// Publisher keeps published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []publisher.JobEvent
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records event.
func (p *Publisher) Publish(_ context.Context, event publisher.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []publisher.JobEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]publisher.JobEvent, len(p.events))
	copy(out, p.events)
	return out
}
