package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionStarted()
	m.SessionEnded("stopped", time.Second)
	m.Handshake("signaling", true)
	m.KeepAlive("media")
	m.DecodeError("media")
	m.Fragment()
	m.Audio(10)
	m.Classified(nil, false, time.Millisecond)
	m.WebhookEvent("session.rtms_started", "started")
	m.RateLimited()
}

func TestSessionGauge(t *testing.T) {
	m := New("test")
	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded("failed", time.Second)

	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Errorf("expected 1 active session, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("expected 1 failed session, got %v", got)
	}
}

func TestClassifiedResults(t *testing.T) {
	m := New("test")
	m.Classified(nil, false, time.Millisecond)
	m.Classified(errors.New("boom"), false, time.Millisecond)
	m.Classified(nil, true, time.Millisecond)

	for _, label := range []string{"ok", "error", "discarded"} {
		if got := testutil.ToFloat64(m.Classifications.WithLabelValues(label)); got != 1 {
			t.Errorf("%s: expected 1, got %v", label, got)
		}
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("test")
	m.Handshake("signaling", false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `test_handshakes_total{result="failed",role="signaling"} 1`) {
		t.Errorf("handshake counter missing from output:\n%s", body)
	}
}
