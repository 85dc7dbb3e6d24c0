package audio

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/eleven-am/rtms-sentiment/internal/protocol"
)

const writeBufferSize = 64 * 1024

var ErrSinkClosed = errors.New("audio: sink closed")

type sessionFile struct {
	file   *os.File
	writer *bufio.Writer
	bytes  int64
}

// FileSink appends each session's raw audio payloads to <dir>/<session>.raw.
type FileSink struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	files  map[string]*sessionFile
	closed bool
}

func NewFileSink(dir string, logger *slog.Logger) (*FileSink, error) {
	if dir == "" {
		return nil, errors.New("audio: dump directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{
		dir:    dir,
		logger: logger.With("component", "audio_sink"),
		files:  make(map[string]*sessionFile),
	}, nil
}

func (s *FileSink) WriteAudio(sessionID string, payload protocol.MediaPayload) error {
	if len(payload.Data) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	sf, ok := s.files[sessionID]
	if !ok {
		f, err := os.OpenFile(s.Path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open audio file: %w", err)
		}
		sf = &sessionFile{file: f, writer: bufio.NewWriterSize(f, writeBufferSize)}
		s.files[sessionID] = sf
	}

	n, err := sf.writer.Write(payload.Data)
	sf.bytes += int64(n)
	return err
}

// CloseSession flushes and closes the file for a session.
func (s *FileSink) CloseSession(sessionID string) error {
	s.mu.Lock()
	sf, ok := s.files[sessionID]
	delete(s.files, sessionID)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	s.logger.Debug("closing audio dump", "session_id", sessionID, "bytes", sf.bytes)
	return closeFile(sf)
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	files := s.files
	s.files = make(map[string]*sessionFile)
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, sf := range files {
		if err := closeFile(sf); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Path returns the dump file for a session id.
func (s *FileSink) Path(sessionID string) string {
	return filepath.Join(s.dir, safeName(sessionID)+".raw")
}

func closeFile(sf *sessionFile) error {
	flushErr := sf.writer.Flush()
	closeErr := sf.file.Close()
	return errors.Join(flushErr, closeErr)
}

// safeName encodes the id with the URL-safe base64 alphabet so distinct ids
// never share a file. A single character is never a valid encoding, so the
// empty id gets one.
func safeName(id string) string {
	if id == "" {
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}
