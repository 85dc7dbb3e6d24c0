package audio

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/eleven-am/rtms-sentiment/internal/protocol"
)

func newTestSink(t *testing.T) *FileSink {
	t.Helper()
	s, err := NewFileSink(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFileSink_AppendsPerSession(t *testing.T) {
	s := newTestSink(t)

	_ = s.WriteAudio("a", protocol.MediaPayload{Data: []byte{1, 2}})
	_ = s.WriteAudio("b", protocol.MediaPayload{Data: []byte{9}})
	_ = s.WriteAudio("a", protocol.MediaPayload{Data: []byte{3}})

	if err := s.CloseSession("a"); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if err := s.CloseSession("b"); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	got, err := os.ReadFile(s.Path("a"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("unexpected bytes %v", got)
	}
	got, _ = os.ReadFile(s.Path("b"))
	if !bytes.Equal(got, []byte{9}) {
		t.Errorf("unexpected bytes %v", got)
	}
}

func TestFileSink_SafeFileNames(t *testing.T) {
	s := newTestSink(t)
	path := s.Path("abc/+=def==")
	if filepath.Dir(path) != s.dir {
		t.Errorf("path escapes dump dir: %s", path)
	}
	if filepath.Base(path) != "YWJjLys9ZGVmPT0.raw" {
		t.Errorf("unexpected file name %s", filepath.Base(path))
	}
	if base := filepath.Base(s.Path("")); base != "_.raw" {
		t.Errorf("expected _.raw for an empty id, got %s", base)
	}
}

func TestFileSink_DistinctIDsDistinctFiles(t *testing.T) {
	s := newTestSink(t)
	ids := []string{"a/b", "a+b", "a=b", "a_b", "a-b", "a b", "a\\b"}

	seen := make(map[string]string, len(ids))
	for _, id := range ids {
		path := s.Path(id)
		if filepath.Dir(path) != s.dir {
			t.Errorf("%q: path escapes dump dir: %s", id, path)
		}
		if other, ok := seen[path]; ok {
			t.Errorf("%q and %q share file %s", id, other, path)
		}
		seen[path] = id
	}

	for i, id := range ids {
		if err := s.WriteAudio(id, protocol.MediaPayload{Data: []byte{byte(i)}}); err != nil {
			t.Fatalf("WriteAudio %q: %v", id, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, id := range ids {
		data, err := os.ReadFile(s.Path(id))
		if err != nil {
			t.Fatalf("read %q: %v", id, err)
		}
		if !bytes.Equal(data, []byte{byte(i)}) {
			t.Errorf("%q: expected its own audio, got %v", id, data)
		}
	}
}

func TestFileSink_Closed(t *testing.T) {
	s := newTestSink(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := s.WriteAudio("a", protocol.MediaPayload{Data: []byte{1}})
	if !errors.Is(err, ErrSinkClosed) {
		t.Errorf("expected ErrSinkClosed, got %v", err)
	}
	if err := s.CloseSession("unknown"); err != nil {
		t.Errorf("closing unknown session should be a no-op, got %v", err)
	}
}

func TestNewFileSink_RequiresDir(t *testing.T) {
	if _, err := NewFileSink("", nil); err == nil {
		t.Error("expected error for empty dir")
	}
}
