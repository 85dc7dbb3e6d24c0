package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eleven-am/rtms-sentiment/internal/transcript"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sentimentChannel = "rtms:session:%s:sentiment"
	publishTimeout   = 5 * time.Second
)

// Record is one classification result as published to subscribers.
type Record struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	StreamID     string    `json:"stream_id"`
	Label        string    `json:"label"`
	Text         string    `json:"text"`
	ClassifiedAt time.Time `json:"classified_at"`
	LatencyMs    int64     `json:"latency_ms"`
}

func NewRecord(r transcript.Result) Record {
	return Record{
		ID:           uuid.NewString(),
		SessionID:    r.SessionID,
		StreamID:     r.StreamID,
		Label:        r.Label,
		Text:         r.Text,
		ClassifiedAt: r.ClassifiedAt,
		LatencyMs:    r.Took.Milliseconds(),
	}
}

type Sink interface {
	Publish(ctx context.Context, rec Record) error
}

func ChannelFor(sessionID string) string {
	return fmt.Sprintf(sentimentChannel, sessionID)
}

type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "sentiment")}
}

func (s *LogSink) Publish(_ context.Context, rec Record) error {
	s.logger.Info("sentiment result",
		"id", rec.ID,
		"session_id", rec.SessionID,
		"stream_id", rec.StreamID,
		"label", rec.Label,
		"chars", len(rec.Text),
		"latency_ms", rec.LatencyMs,
	)
	return nil
}

// RedisSink publishes results on a per-session pub/sub channel.
type RedisSink struct {
	redis  *redis.Client
	logger *slog.Logger
}

func NewRedisSink(client *redis.Client, logger *slog.Logger) *RedisSink {
	return &RedisSink{redis: client, logger: logger.With("component", "redis_sink")}
}

func (s *RedisSink) Publish(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	channel := ChannelFor(rec.SessionID)
	if err := s.redis.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}

	s.logger.Debug("published result", "session_id", rec.SessionID, "channel", channel)
	return nil
}

// Multi publishes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deliver adapts a sink to the aggregator result callback.
func Deliver(s Sink, logger *slog.Logger) func(transcript.Result) {
	return func(r transcript.Result) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		rec := NewRecord(r)
		if err := s.Publish(ctx, rec); err != nil {
			logger.Warn("failed to publish sentiment result",
				"session_id", rec.SessionID,
				"error", err,
			)
		}
	}
}
