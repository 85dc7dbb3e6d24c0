package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eleven-am/rtms-sentiment/internal/transcript"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func testResult() transcript.Result {
	return transcript.Result{
		SessionID:    "sess-1",
		StreamID:     "stream-1",
		Text:         "what a lovely day",
		Label:        "joy",
		ClassifiedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Took:         12 * time.Millisecond,
	}
}

func TestNewRecord(t *testing.T) {
	rec := NewRecord(testResult())
	if _, err := uuid.Parse(rec.ID); err != nil {
		t.Errorf("expected uuid id, got %q", rec.ID)
	}
	if rec.Label != "joy" || rec.SessionID != "sess-1" || rec.LatencyMs != 12 {
		t.Errorf("unexpected record %+v", rec)
	}
	if NewRecord(testResult()).ID == rec.ID {
		t.Error("record ids should be unique")
	}
}

func TestChannelFor(t *testing.T) {
	if got := ChannelFor("abc"); got != "rtms:session:abc:sentiment" {
		t.Errorf("unexpected channel %s", got)
	}
}

func TestRedisSink_Publish(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, ChannelFor("sess-1"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	s := NewRedisSink(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := NewRecord(testResult())
	if err := s.Publish(ctx, rec); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got Record
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.ID != rec.ID || got.Label != "joy" || got.Text != rec.Text {
			t.Errorf("unexpected payload %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestRedisSink_PublishError(t *testing.T) {
	client, mr := newTestRedis(t)
	mr.Close()

	s := NewRedisSink(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Publish(ctx, NewRecord(testResult())); err == nil {
		t.Error("expected error with redis down")
	}
}

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, Record) error { return f.err }

type countingSink struct{ n int }

func (c *countingSink) Publish(context.Context, Record) error {
	c.n++
	return nil
}

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	counter := &countingSink{}
	m := Multi{failingSink{err: boom}, counter}

	err := m.Publish(context.Background(), NewRecord(testResult()))
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error, got %v", err)
	}
	if counter.n != 1 {
		t.Error("a failing sink should not stop the others")
	}
	if err := (Multi{counter}).Publish(context.Background(), Record{}); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestDeliver_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	Deliver(failingSink{err: errors.New("down")}, logger)(testResult())

	if !strings.Contains(buf.String(), "failed to publish sentiment result") {
		t.Errorf("expected failure log, got %q", buf.String())
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))
	if err := s.Publish(context.Background(), NewRecord(testResult())); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !strings.Contains(buf.String(), "label=joy") {
		t.Errorf("expected label in log, got %q", buf.String())
	}
}
