// Package archive keeps a copy of every raw bundle built by the profile
// service, keyed by cache key and run ID, in a blob store.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"
)

const contentTypeJSON = "application/json"

// BlobStore writes objects and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// Config controls object naming.
type Config struct {
	// Prefix is prepended to every object path (default "bundles").
	Prefix string
}

// Archiver stores bundles at <prefix>/<cacheKey>/<runID>.json.
type Archiver struct {
	store  BlobStore
	prefix string
	logger *zap.Logger
}

// New returns an Archiver over store.
func New(store BlobStore, cfg Config, logger *zap.Logger) (*Archiver, error) {
	if store == nil {
		return nil, errors.New("archive: blob store is required")
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	if prefix == "" {
		prefix = "bundles"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, prefix: prefix, logger: logger.Named("archive")}, nil
}

// ObjectPath names the object for a bundle.
func (a *Archiver) ObjectPath(cacheKey, runID string) (string, error) {
	if err := checkSegment("cache key", cacheKey); err != nil {
		return "", err
	}
	if err := checkSegment("run id", runID); err != nil {
		return "", err
	}
	return path.Join(a.prefix, cacheKey, runID+".json"), nil
}

// Store uploads the bundle and returns its URI.
func (a *Archiver) Store(ctx context.Context, cacheKey, runID string, bundle []byte) (string, error) {
	objectPath, err := a.ObjectPath(cacheKey, runID)
	if err != nil {
		return "", err
	}
	uri, err := a.store.PutObject(ctx, objectPath, contentTypeJSON, bytes.NewReader(bundle))
	if err != nil {
		return "", fmt.Errorf("archive bundle: %w", err)
	}
	a.logger.Debug("bundle archived", zap.String("uri", uri), zap.Int("bytes", len(bundle)))
	return uri, nil
}

func checkSegment(name, value string) error {
	switch {
	case strings.TrimSpace(value) == "":
		return fmt.Errorf("archive: %s is required", name)
	case strings.ContainsAny(value, `/\`) || value == "." || value == "..":
		return fmt.Errorf("archive: invalid %s %q", name, value)
	}
	return nil
}
