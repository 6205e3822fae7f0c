// Package notify announces freshly built dossiers to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Message is one outbound notice.
type Message struct {
	Topic      string
	Data       []byte
	Attributes map[string]string
}

// Publisher delivers messages and returns the broker-assigned ID.
type Publisher interface {
	Publish(ctx context.Context, msg Message) (string, error)
}

// Notice is the JSON body of a completion message.
type Notice struct {
	RunID      string    `json:"run_id"`
	CacheKey   string    `json:"cache_key"`
	Sources    []string  `json:"sources"`
	Successful int       `json:"successful"`
	ArchiveURI string    `json:"archive_uri,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notifier publishes notices to a fixed topic.
type Notifier struct {
	pub    Publisher
	topic  string
	logger *zap.Logger
}

// New returns a Notifier publishing to topic.
func New(pub Publisher, topic string, logger *zap.Logger) (*Notifier, error) {
	if pub == nil {
		return nil, errors.New("notify: publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{pub: pub, topic: topic, logger: logger.Named("notify")}, nil
}

// Completed publishes n and returns the message ID.
func (n *Notifier) Completed(ctx context.Context, notice Notice) (string, error) {
	data, err := json.Marshal(notice)
	if err != nil {
		return "", fmt.Errorf("encode notice: %w", err)
	}
	id, err := n.pub.Publish(ctx, Message{
		Topic: n.topic,
		Data:  data,
		Attributes: map[string]string{
			"run_id":       notice.RunID,
			"cache_key":    notice.CacheKey,
			"content_type": "application/json",
		},
	})
	if err != nil {
		return "", fmt.Errorf("publish notice: %w", err)
	}
	n.logger.Debug("completion published", zap.String("run_id", notice.RunID), zap.String("message_id", id))
	return id, nil
}
