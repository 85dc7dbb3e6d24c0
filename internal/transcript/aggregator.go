package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/eleven-am/rtms-sentiment/internal/metrics"
	"github.com/jdkato/prose/v2"
)

type Unit string

const (
	UnitChars     Unit = "chars"
	UnitWords     Unit = "words"
	UnitSentences Unit = "sentences"
)

var ErrInvalidThreshold = errors.New("transcript: threshold must be positive")

// ParseUnit maps a configuration value to a Unit. Empty means characters.
func ParseUnit(s string) (Unit, error) {
	switch Unit(strings.ToLower(strings.TrimSpace(s))) {
	case "", UnitChars:
		return UnitChars, nil
	case UnitWords:
		return UnitWords, nil
	case UnitSentences:
		return UnitSentences, nil
	default:
		return "", fmt.Errorf("unknown threshold unit %q", s)
	}
}

// Classifier labels a block of transcript text.
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

type Result struct {
	SessionID    string
	StreamID     string
	Text         string
	Label        string
	ClassifiedAt time.Time
	Took         time.Duration
}

type Config struct {
	Threshold int
	Unit      Unit
}

type Options struct {
	SessionID  string
	StreamID   string
	Config     Config
	Classifier Classifier
	Deliver    func(Result)
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Aggregator buffers transcript fragments for one session and hands the
// buffer to the classifier each time its size exceeds the threshold.
type Aggregator struct {
	sessionID  string
	streamID   string
	cfg        Config
	classifier Classifier
	deliver    func(Result)
	log        *slog.Logger
	metrics    *metrics.Metrics

	mu     sync.Mutex
	buf    strings.Builder
	closed bool

	gate     sync.RWMutex
	inflight sync.WaitGroup
}

func NewAggregator(opts Options) (*Aggregator, error) {
	if opts.Config.Threshold <= 0 {
		return nil, ErrInvalidThreshold
	}
	if opts.Classifier == nil {
		return nil, errors.New("transcript: classifier is required")
	}
	if opts.Config.Unit == "" {
		opts.Config.Unit = UnitChars
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	deliver := opts.Deliver
	if deliver == nil {
		deliver = func(Result) {}
	}

	return &Aggregator{
		sessionID:  opts.SessionID,
		streamID:   opts.StreamID,
		cfg:        opts.Config,
		classifier: opts.Classifier,
		deliver:    deliver,
		log:        log.With("component", "transcript_aggregator"),
		metrics:    opts.Metrics,
	}, nil
}

// Append adds text to the buffer. When the buffer now exceeds the threshold it
// is swapped for an empty one and the old contents are classified in the
// background. It reports whether a classification was dispatched.
func (a *Aggregator) Append(text string) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	a.buf.WriteString(text)
	if Measure(a.buf.String(), a.cfg.Unit) <= a.cfg.Threshold {
		a.mu.Unlock()
		return false
	}
	batch := a.swapLocked()
	a.mu.Unlock()

	go a.classify(batch)
	return true
}

// Flush dispatches whatever is buffered regardless of the threshold.
func (a *Aggregator) Flush() bool {
	a.mu.Lock()
	if a.closed || a.buf.Len() == 0 {
		a.mu.Unlock()
		return false
	}
	batch := a.swapLocked()
	a.mu.Unlock()

	go a.classify(batch)
	return true
}

func (a *Aggregator) swapLocked() string {
	batch := a.buf.String()
	a.buf.Reset()
	a.inflight.Add(1)
	return batch
}

// Buffered returns the text accumulated since the last dispatch.
func (a *Aggregator) Buffered() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

// Close drops the buffer. Classifications already running are left to finish
// but their results are discarded; no result is delivered after Close returns.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.buf.Reset()
	a.mu.Unlock()

	a.gate.Lock()
	a.gate.Unlock()
}

// Wait blocks until every dispatched classification has returned.
func (a *Aggregator) Wait() {
	a.inflight.Wait()
}

func (a *Aggregator) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Aggregator) classify(text string) {
	defer a.inflight.Done()

	start := time.Now()
	label, err := a.classifier.Classify(context.Background(), text)
	took := time.Since(start)

	a.gate.RLock()
	defer a.gate.RUnlock()

	discarded := a.isClosed()
	a.metrics.Classified(err, discarded, took)

	if err != nil {
		a.log.Warn("classification failed",
			"session_id", a.sessionID,
			"chars", utf8.RuneCountInString(text),
			"error", err,
		)
		return
	}
	if discarded {
		a.log.Debug("discarding classification for stopped session",
			"session_id", a.sessionID,
			"label", label,
		)
		return
	}

	a.deliver(Result{
		SessionID:    a.sessionID,
		StreamID:     a.streamID,
		Text:         text,
		Label:        label,
		ClassifiedAt: time.Now().UTC(),
		Took:         took,
	})
}

// Measure returns the size of text in the given unit.
func Measure(text string, unit Unit) int {
	switch unit {
	case UnitWords:
		return len(strings.Fields(text))
	case UnitSentences:
		return countSentences(text)
	default:
		return utf8.RuneCountInString(text)
	}
}

func countSentences(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	doc, err := prose.NewDocument(text,
		prose.WithTokenization(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return 0
	}
	return len(doc.Sentences())
}
