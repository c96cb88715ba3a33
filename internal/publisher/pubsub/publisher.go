// Package pubsub implements a Google Cloud Pub/Sub publisher for
// persisted-record notifications.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub"
)

// Publisher wraps a Pub/Sub client and publishes JSON payloads. Topic
// handles are cached per name and stopped on Close so queued messages flush.
type Publisher struct {
	client *gcppubsub.Client
	mu     sync.Mutex
	topics map[string]*gcppubsub.Topic
}

// New creates a Publisher over an existing client.
func New(client *gcppubsub.Client) *Publisher {
	return &Publisher{
		client: client,
		topics: make(map[string]*gcppubsub.Topic),
	}
}

// Publish marshals the payload to JSON and publishes it to the named topic,
// waiting for the server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	result := p.topic(topic).Publish(ctx, &gcppubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) *gcppubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t
	}
	t := p.client.Topic(name)
	p.topics[name] = t
	return t
}

// Close stops the cached topic publishers and closes the client.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*gcppubsub.Topic)
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
