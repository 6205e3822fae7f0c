// Package memory records published notices in memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/JakeFAU/dossier-crawler/internal/notify"
)

// Publisher stores every message it is given.
type Publisher struct {
	mu       sync.RWMutex
	messages []notify.Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records msg and returns a sequential pseudo ID.
func (p *Publisher) Publish(ctx context.Context, msg notify.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, clone(msg))
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns copies of the recorded messages in publish order.
func (p *Publisher) Messages() []notify.Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]notify.Message, len(p.messages))
	for i, m := range p.messages {
		out[i] = clone(m)
	}
	return out
}

func clone(m notify.Message) notify.Message {
	m.Data = append([]byte(nil), m.Data...)
	m.Attributes = maps.Clone(m.Attributes)
	return m
}
