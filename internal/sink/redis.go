package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/amishk599/jobflow/internal/model"
)

// Compile-time check.
var _ model.OutputSink = (*RedisSink)(nil)

// DefaultStream is the stream listings are published to when none is configured.
const DefaultStream = "jobflow:listings"

// streamAdder is the part of *redis.Client the sink needs.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink publishes each listing as one entry on a Redis stream so
// downstream consumers can pick up new postings.
type RedisSink struct {
	client streamAdder
	stream string
	maxLen int64
	logger *slog.Logger
}

// NewRedisSink creates a sink over client. maxLen > 0 caps the stream
// approximately.
func NewRedisSink(client streamAdder, stream string, maxLen int64, logger *slog.Logger) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

// WriteBatch adds one entry per listing and returns the stream name.
func (s *RedisSink) WriteBatch(ctx context.Context, source model.Source, listings []model.Listing) (string, error) {
	if len(listings) == 0 {
		return "", nil
	}
	for _, l := range listings {
		values, err := streamValues(l)
		if err != nil {
			return "", err
		}
		args := &redis.XAddArgs{Stream: s.stream, Values: values}
		if s.maxLen > 0 {
			args.MaxLen = s.maxLen
			args.Approx = true
		}
		if err := s.client.XAdd(ctx, args).Err(); err != nil {
			return "", fmt.Errorf("publishing %s to %s: %w", l.Key(), s.stream, err)
		}
	}
	s.logger.Info("listings published", "source", source, "stream", s.stream, "listings", len(listings))
	return "redis://" + s.stream, nil
}

func streamValues(l model.Listing) (map[string]any, error) {
	values := map[string]any{
		"source":      string(l.Source),
		"reference":   l.Reference,
		"title":       l.Title,
		"client":      l.Client,
		"location":    l.Location,
		"start_date":  l.StartDate,
		"end_date":    l.EndDate,
		"skills":      l.Skills,
		"url":         l.URL,
		"description": l.DescriptionSummary,
	}
	if len(l.RawData) > 0 {
		raw, err := json.Marshal(l.RawData)
		if err != nil {
			return nil, fmt.Errorf("encoding raw data for %s: %w", l.Key(), err)
		}
		values["raw_data"] = string(raw)
	}
	return values, nil
}
