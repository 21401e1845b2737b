// Package pubsub publishes job events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/JakeFAU/site-acquirer/internal/publisher"
)

// Config identifies the topic.
type Config struct {
	ProjectID string
	Topic     string
}

// Publisher sends JSON-encoded JobEvents with site and status attributes.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New dials Pub/Sub and binds the configured topic.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("pubsub project_id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{client: client, topic: client.Topic(cfg.Topic)}, nil
}

// Publish blocks until the server acknowledges the event.
func (p *Publisher) Publish(ctx context.Context, event publisher.JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"site":   event.Site,
			"status": event.Status,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish job event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
