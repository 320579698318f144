// Package index queries the externally maintained semantic tool index.
//
// The index holds one point per tool descriptor, keyed by tool id with the
// embedding of the tool's documentation. Population happens out of band;
// only querying is in scope here.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/rhea-ai/rhea/pkg/config"
)

// ErrUnavailable indicates the index could not be reached after retries.
var ErrUnavailable = errors.New("index: unavailable")

// Embedder turns a query string into a vector. Satisfied by
// *embedder.Client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Semantic finds tools relevant to a free-text query.
type Semantic interface {
	Find(ctx context.Context, query string, topK int) ([]string, error)
}

// QdrantIndex is the qdrant-backed semantic index.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	embedder   Embedder

	maxRetries int
	baseDelay  time.Duration
}

// NewQdrant connects to the configured qdrant collection.
func NewQdrant(cfg config.IndexConfig, emb Embedder) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("index: create qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		embedder:   emb,
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
	}, nil
}

// Find returns the ids of the topK tools most relevant to query. Transient
// index faults are retried with bounded exponential backoff before
// surfacing ErrUnavailable.
func (s *QdrantIndex) Find(ctx context.Context, query string, topK int) ([]string, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrUnavailable, err)
	}

	var lastErr error
	delay := s.baseDelay
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying index query", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}

		ids, err := s.search(ctx, vector, topK)
		if err == nil {
			return ids, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (s *QdrantIndex) search(ctx context.Context, vector []float32, topK int) ([]string, error) {
	limit := uint64(topK)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(points))
	for _, point := range points {
		if id := pointID(point); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// pointID extracts the tool id: preferred from the tool_id payload field,
// falling back to the point id itself.
func pointID(point *qdrant.ScoredPoint) string {
	if point.Payload != nil {
		if v, ok := point.Payload["tool_id"]; ok {
			if s := v.GetStringValue(); s != "" {
				return s
			}
		}
	}
	if point.Id == nil {
		return ""
	}
	switch id := point.Id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return id.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", id.Num)
	}
	return ""
}

// Close releases the qdrant client.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}

var _ Semantic = (*QdrantIndex)(nil)
