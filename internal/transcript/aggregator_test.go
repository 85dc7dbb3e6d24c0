package transcript

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingClassifier struct {
	mu      sync.Mutex
	calls   []string
	label   string
	err     error
	release chan struct{}
}

func (c *recordingClassifier) Classify(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, text)
	c.mu.Unlock()
	if c.release != nil {
		<-c.release
	}
	return c.label, c.err
}

func (c *recordingClassifier) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

type resultCollector struct {
	mu      sync.Mutex
	results []Result
}

func (r *resultCollector) deliver(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *resultCollector) All() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

func newTestAggregator(t *testing.T, cfg Config, c Classifier, deliver func(Result)) *Aggregator {
	t.Helper()
	agg, err := NewAggregator(Options{
		SessionID:  "sess-1",
		StreamID:   "stream-1",
		Config:     cfg,
		Classifier: c,
		Deliver:    deliver,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	return agg
}

func TestNewAggregator_Validation(t *testing.T) {
	if _, err := NewAggregator(Options{Classifier: &recordingClassifier{}}); !errors.Is(err, ErrInvalidThreshold) {
		t.Errorf("expected ErrInvalidThreshold, got %v", err)
	}
	if _, err := NewAggregator(Options{Config: Config{Threshold: 10}}); err == nil {
		t.Error("expected error without classifier")
	}
}

// A single fragment that alone exceeds the threshold is classified whole.
func TestAggregator_SingleFragmentOverThreshold(t *testing.T) {
	classifier := &recordingClassifier{label: "joy"}
	collector := &resultCollector{}
	agg := newTestAggregator(t, Config{Threshold: 100}, classifier, collector.deliver)

	text := strings.Repeat("hello ", 20)
	if !agg.Append(text) {
		t.Fatal("expected dispatch for 120 characters over threshold 100")
	}
	agg.Wait()

	calls := classifier.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one classify call, got %d", len(calls))
	}
	if calls[0] != text || len(calls[0]) != 120 {
		t.Errorf("expected the 120 character buffer, got %q", calls[0])
	}
	if agg.Buffered() != "" {
		t.Errorf("expected empty buffer after dispatch, got %q", agg.Buffered())
	}

	results := collector.All()
	if len(results) != 1 || results[0].Label != "joy" || results[0].SessionID != "sess-1" {
		t.Errorf("unexpected results %+v", results)
	}
}

func TestAggregator_DispatchesAtCrossingFragment(t *testing.T) {
	classifier := &recordingClassifier{label: "neutral"}
	agg := newTestAggregator(t, Config{Threshold: 100}, classifier, nil)

	dispatchedAt := -1
	for i := 1; i <= 20; i++ {
		if agg.Append("hello ") {
			if dispatchedAt != -1 {
				t.Fatalf("second dispatch at fragment %d", i)
			}
			dispatchedAt = i
		}
	}
	agg.Wait()

	if dispatchedAt != 17 {
		t.Fatalf("expected dispatch at fragment 17, got %d", dispatchedAt)
	}
	calls := classifier.Calls()
	if len(calls) != 1 || calls[0] != strings.Repeat("hello ", 17) {
		t.Errorf("unexpected classify input %q", calls)
	}
	if got := agg.Buffered(); got != strings.Repeat("hello ", 3) {
		t.Errorf("expected remaining three fragments, got %q", got)
	}
}

func TestAggregator_NoLossNoDuplication(t *testing.T) {
	classifier := &recordingClassifier{label: "neutral"}
	agg := newTestAggregator(t, Config{Threshold: 10}, classifier, nil)

	var fragments []string
	for i := 0; i < 50; i++ {
		fragments = append(fragments, strings.Repeat(string(rune('a'+i%26)), 1+i%4))
	}
	for _, f := range fragments {
		agg.Append(f)
	}
	agg.Wait()

	var want []string
	var pending string
	for _, f := range fragments {
		pending += f
		if len(pending) > 10 {
			want = append(want, pending)
			pending = ""
		}
	}

	got := classifier.Calls()
	sort.Strings(got)
	sort.Strings(want)
	if !slices.Equal(got, want) {
		t.Errorf("dispatched batches %v, want %v", got, want)
	}
	if agg.Buffered() != pending {
		t.Errorf("expected remaining buffer %q, got %q", pending, agg.Buffered())
	}
}

func TestAggregator_AppendDuringClassification(t *testing.T) {
	classifier := &recordingClassifier{label: "joy", release: make(chan struct{})}
	agg := newTestAggregator(t, Config{Threshold: 5}, classifier, nil)

	if !agg.Append("abcdef") {
		t.Fatal("expected dispatch")
	}
	agg.Append("xyz")
	if got := agg.Buffered(); got != "xyz" {
		t.Errorf("text appended during classification was lost: %q", got)
	}
	close(classifier.release)
	agg.Wait()
	if got := agg.Buffered(); got != "xyz" {
		t.Errorf("buffer changed after classification finished: %q", got)
	}
}

func TestAggregator_ClassifierError(t *testing.T) {
	classifier := &recordingClassifier{err: errors.New("model offline")}
	collector := &resultCollector{}
	agg := newTestAggregator(t, Config{Threshold: 3}, classifier, collector.deliver)

	agg.Append("abcd")
	agg.Append("ef")
	agg.Wait()

	if len(collector.All()) != 0 {
		t.Error("failed classification should not deliver a result")
	}
	if got := agg.Buffered(); got != "ef" {
		t.Errorf("buffer should keep appending after a failure, got %q", got)
	}
}

func TestAggregator_CloseDiscardsInflightResults(t *testing.T) {
	classifier := &recordingClassifier{label: "anger", release: make(chan struct{})}
	collector := &resultCollector{}
	agg := newTestAggregator(t, Config{Threshold: 1}, classifier, collector.deliver)

	agg.Append("hi there")
	agg.Close()
	close(classifier.release)

	done := make(chan struct{})
	go func() {
		agg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight classification did not finish")
	}

	if len(classifier.Calls()) != 1 {
		t.Error("in-flight classification should be allowed to finish")
	}
	if len(collector.All()) != 0 {
		t.Error("result delivered after close")
	}
	if agg.Append("more text") {
		t.Error("append after close should not dispatch")
	}
}

func TestAggregator_Flush(t *testing.T) {
	classifier := &recordingClassifier{label: "neutral"}
	agg := newTestAggregator(t, Config{Threshold: 100}, classifier, nil)

	if agg.Flush() {
		t.Error("flush of empty buffer should not dispatch")
	}
	agg.Append("short")
	if !agg.Flush() {
		t.Error("expected flush to dispatch buffered text")
	}
	agg.Wait()
	if calls := classifier.Calls(); len(calls) != 1 || calls[0] != "short" {
		t.Errorf("unexpected calls %v", calls)
	}
}

func TestAggregator_WordUnit(t *testing.T) {
	classifier := &recordingClassifier{label: "neutral"}
	agg := newTestAggregator(t, Config{Threshold: 3, Unit: UnitWords}, classifier, nil)

	if agg.Append("one two ") {
		t.Error("two words should not dispatch")
	}
	if agg.Append("three ") {
		t.Error("three words equals threshold and should not dispatch")
	}
	if !agg.Append("four") {
		t.Error("four words should dispatch")
	}
	agg.Wait()
}

func TestMeasure(t *testing.T) {
	tests := []struct {
		text string
		unit Unit
		want int
	}{
		{"hello ", UnitChars, 6},
		{"héllo", UnitChars, 5},
		{"  one   two three ", UnitWords, 3},
		{"", UnitWords, 0},
		{"", UnitSentences, 0},
	}
	for _, tt := range tests {
		if got := Measure(tt.text, tt.unit); got != tt.want {
			t.Errorf("Measure(%q, %s) = %d, want %d", tt.text, tt.unit, got, tt.want)
		}
	}
}

func TestParseUnit(t *testing.T) {
	for in, want := range map[string]Unit{"": UnitChars, "chars": UnitChars, "WORDS": UnitWords, "sentences": UnitSentences} {
		got, err := ParseUnit(in)
		if err != nil || got != want {
			t.Errorf("ParseUnit(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseUnit("bytes"); err == nil {
		t.Error("expected error for unknown unit")
	}
}
