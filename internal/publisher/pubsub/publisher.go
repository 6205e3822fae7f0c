// Package pubsub publishes completion notices to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/dossier-crawler/internal/notify"
)

// Publisher maps topics to Pub/Sub publishers created from one client.
type Publisher struct {
	client *pubsub.Client

	mu      sync.Mutex
	topics  map[string]*pubsub.Publisher
	stopped bool
}

// New returns a Publisher over client.
func New(client *pubsub.Client) *Publisher {
	return &Publisher{client: client, topics: make(map[string]*pubsub.Publisher)}
}

// Publish sends msg and waits for the server-assigned ID. The active trace
// context, if any, is injected into the message attributes.
func (p *Publisher) Publish(ctx context.Context, msg notify.Message) (string, error) {
	pub, err := p.publisher(msg.Topic)
	if err != nil {
		return "", err
	}
	attrs := make(map[string]string, len(msg.Attributes))
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attrs))

	id, err := pub.Publish(ctx, &pubsub.Message{Data: msg.Data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", msg.Topic, err)
	}
	return id, nil
}

func (p *Publisher) publisher(topic string) (*pubsub.Publisher, error) {
	if p.client == nil {
		return nil, errors.New("pubsub client is not configured")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, errors.New("publisher stopped")
	}
	pub, ok := p.topics[topic]
	if !ok {
		pub = p.client.Publisher(topic)
		p.topics[topic] = pub
	}
	return pub, nil
}

// Stop flushes and stops every topic publisher. The client stays open.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pub := range p.topics {
		pub.Stop()
	}
	p.stopped = true
}
