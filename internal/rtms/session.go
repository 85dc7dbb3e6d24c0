package rtms

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/rtms-sentiment/internal/metrics"
	"github.com/eleven-am/rtms-sentiment/internal/protocol"
	"github.com/eleven-am/rtms-sentiment/internal/transcript"
)

const inboxSize = 64

// AudioSink receives raw audio payloads for a session.
type AudioSink interface {
	WriteAudio(sessionID string, payload protocol.MediaPayload) error
	CloseSession(sessionID string) error
}

type Config struct {
	ContentTypes     protocol.ContentType
	Transcript       transcript.Config
	HandshakeTimeout time.Duration
}

type StartParams struct {
	SessionID    string
	StreamID     string
	SignalingURL string
}

func (p StartParams) valid() bool {
	return p.SessionID != "" && p.StreamID != "" && p.SignalingURL != ""
}

type eventKind int

const (
	eventOpened eventKind = iota
	eventFrame
	eventClosed
)

type event struct {
	role protocol.Role
	kind eventKind
	conn Conn
	data []byte
	err  error
}

type SessionInfo struct {
	SessionID string
	StreamID  string
	State     SessionState
	Signaling ChannelState
	Media     ChannelState
	MediaURL  string
	StartedAt time.Time
	Err       error
}

// Session owns the signaling and media channels of one stream. All protocol
// state changes and socket writes happen on the session loop; reader and dial
// goroutines only post events to its inbox.
type Session struct {
	ID           string
	StreamID     string
	SignalingURL string
	StartedAt    time.Time

	cfg        Config
	dialer     Dialer
	log        *slog.Logger
	metrics    *metrics.Metrics
	audio      AudioSink
	aggregator *transcript.Aggregator
	signaling  *signalingChannel
	onEnd      func(*Session)

	sigTimer   *time.Timer
	mediaTimer *time.Timer

	inbox  chan event
	cancel context.CancelFunc
	done   chan struct{}

	connMu sync.Mutex
	conns  []Conn
	ended  bool

	mu       sync.RWMutex
	state    SessionState
	media    *mediaChannel
	mediaURL string
	err      error
}

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error that degraded or failed the session, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Done is closed once the session has torn down both channels.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := SessionInfo{
		SessionID: s.ID,
		StreamID:  s.StreamID,
		State:     s.state,
		Signaling: s.signaling.State(),
		Media:     StateIdle,
		MediaURL:  s.mediaURL,
		StartedAt: s.StartedAt,
		Err:       s.err,
	}
	if s.media != nil {
		info.Media = s.media.State()
	}
	return info
}

// Stop closes both channels and waits for the loop to exit. Classifications
// already running finish but their results are dropped.
func (s *Session) Stop() {
	s.cancel()
	<-s.done
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	if err := s.signaling.fsm.Transition(StateConnecting); err != nil {
		s.finish(SessionFailed, err)
		return
	}
	s.sigTimer = s.newHandshakeTimer()
	go s.dial(ctx, protocol.RoleSignaling, s.SignalingURL)

	for {
		select {
		case <-ctx.Done():
			s.finish(SessionStopped, nil)
			return

		case <-timerC(s.sigTimer):
			s.sigTimer = nil
			s.metrics.Handshake(string(protocol.RoleSignaling), false)
			s.finish(SessionFailed, &ChannelError{Role: protocol.RoleSignaling, Err: ErrHandshakeTimeout})
			return

		case <-timerC(s.mediaTimer):
			s.mediaTimer = nil
			s.metrics.Handshake(string(protocol.RoleMedia), false)
			s.mediaLost(true, &ChannelError{Role: protocol.RoleMedia, Err: ErrHandshakeTimeout})

		case ev := <-s.inbox:
			var end bool
			switch ev.role {
			case protocol.RoleSignaling:
				end = s.onSignaling(ctx, ev)
			case protocol.RoleMedia:
				end = s.onMedia(ev)
			}
			if end {
				return
			}
		}
	}
}

func (s *Session) onSignaling(ctx context.Context, ev event) bool {
	sig := s.signaling

	switch ev.kind {
	case eventOpened:
		if ev.err != nil {
			s.finish(SessionFailed, &ChannelError{Role: protocol.RoleSignaling, Err: ev.err})
			return true
		}
		if err := sig.open(ev.conn); err != nil {
			s.finish(SessionFailed, &ChannelError{Role: protocol.RoleSignaling, Err: err})
			return true
		}
		go s.read(protocol.RoleSignaling, ev.conn)
		s.log.Debug("signaling handshake sent")
		return false

	case eventFrame:
		if ev.conn != sig.conn {
			return false
		}
		msg, err := s.decode(protocol.RoleSignaling, ev.data)
		if err != nil {
			return false
		}
		url, err := sig.handle(msg)
		if err != nil {
			s.finish(SessionFailed, err)
			return true
		}
		if url != "" {
			stopTimer(&s.sigTimer)
			s.startMedia(ctx, url)
		}
		return false

	case eventClosed:
		if ev.conn != sig.conn {
			return false
		}
		if cleanClose(ev.err) {
			s.log.Info("signaling connection closed by provider")
			s.finish(SessionStopped, nil)
		} else {
			s.finish(SessionFailed, &ChannelError{Role: protocol.RoleSignaling, Err: ev.err})
		}
		return true
	}
	return false
}

func (s *Session) startMedia(ctx context.Context, url string) {
	m, err := newMediaChannel(s.signaling, url, s.log)
	if err != nil {
		s.log.Error("cannot create media channel", "error", err)
		return
	}
	m.onTranscript = func(p protocol.TranscriptPayload) {
		s.aggregator.Append(p.Data)
	}
	m.onAudio = func(p protocol.MediaPayload) {
		if s.audio == nil {
			return
		}
		if err := s.audio.WriteAudio(s.ID, p); err != nil {
			s.log.Warn("audio sink write failed", "error", err)
		}
	}

	s.mu.Lock()
	s.media = m
	s.mediaURL = url
	s.mu.Unlock()

	_ = m.fsm.Transition(StateConnecting)
	s.mediaTimer = s.newHandshakeTimer()
	s.log.Info("signaling ready, connecting media", "media_url", url)
	go s.dial(ctx, protocol.RoleMedia, url)
}

func (s *Session) onMedia(ev event) bool {
	m := s.media
	if m == nil || m.State().Terminal() {
		if ev.kind == eventOpened && ev.conn != nil {
			_ = ev.conn.Close()
		}
		return false
	}

	switch ev.kind {
	case eventOpened:
		if ev.err != nil {
			s.mediaLost(true, &ChannelError{Role: protocol.RoleMedia, Err: ev.err})
			return false
		}
		if err := m.open(ev.conn); err != nil {
			s.mediaLost(true, &ChannelError{Role: protocol.RoleMedia, Err: err})
			return false
		}
		go s.read(protocol.RoleMedia, ev.conn)
		s.log.Debug("data handshake sent", "media_type", s.cfg.ContentTypes)

	case eventFrame:
		if ev.conn != m.conn {
			return false
		}
		msg, err := s.decode(protocol.RoleMedia, ev.data)
		if err != nil {
			return false
		}
		activated, err := m.handle(msg)
		if err != nil {
			s.mediaLost(true, err)
			return false
		}
		if activated {
			stopTimer(&s.mediaTimer)
			if err := s.signaling.sendReadyAck(); err != nil {
				s.finish(SessionFailed, &ChannelError{Role: protocol.RoleSignaling, Err: err})
				return true
			}
			s.setState(SessionStreaming, nil)
			s.log.Info("media streaming")
		}

	case eventClosed:
		if ev.conn != m.conn {
			return false
		}
		if cleanClose(ev.err) {
			s.mediaLost(false, nil)
		} else {
			s.mediaLost(true, &ChannelError{Role: protocol.RoleMedia, Err: ev.err})
		}
	}
	return false
}

// mediaLost closes the media channel and keeps signaling open so the provider
// can still deliver a stop.
func (s *Session) mediaLost(failed bool, err error) {
	stopTimer(&s.mediaTimer)
	s.media.close(failed)
	s.aggregator.Flush()
	s.setState(SessionDegraded, err)
	s.log.Warn("media channel lost", "failed", failed, "error", err)
}

func (s *Session) decode(role protocol.Role, data []byte) (protocol.Message, error) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.metrics.DecodeError(string(role))
		s.log.Warn("dropping malformed frame", "channel", role, "error", err)
		return nil, err
	}
	return msg, nil
}

func (s *Session) finish(state SessionState, err error) {
	stopTimer(&s.sigTimer)
	stopTimer(&s.mediaTimer)

	s.signaling.close(state == SessionFailed)
	if s.media != nil {
		s.media.close(false)
	}
	s.closeConns()
	s.cancel()

	s.aggregator.Close()
	if s.audio != nil {
		if cerr := s.audio.CloseSession(s.ID); cerr != nil {
			s.log.Warn("audio sink close failed", "error", cerr)
		}
	}

	s.setState(state, err)
	s.metrics.SessionEnded(state.String(), time.Since(s.StartedAt))
	if err != nil {
		s.log.Error("session ended", "state", state, "error", err)
	} else {
		s.log.Info("session ended", "state", state)
	}

	if s.onEnd != nil {
		s.onEnd(s)
	}
}

func (s *Session) setState(state SessionState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = state
	if err != nil && s.err == nil {
		s.err = err
	}
}

func (s *Session) dial(ctx context.Context, role protocol.Role, url string) {
	conn, err := s.dialer.Dial(ctx, url)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		s.post(event{role: role, kind: eventOpened, err: err})
		return
	}
	if !s.track(conn) {
		return
	}
	s.post(event{role: role, kind: eventOpened, conn: conn})
}

func (s *Session) read(role protocol.Role, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.post(event{role: role, kind: eventClosed, conn: conn, err: err})
			return
		}
		if !s.post(event{role: role, kind: eventFrame, conn: conn, data: data}) {
			return
		}
	}
}

func (s *Session) post(ev event) bool {
	select {
	case s.inbox <- ev:
		return true
	case <-s.done:
		return false
	}
}

// track registers a dialed connection so teardown closes it. A connection
// that arrives after teardown is closed immediately.
func (s *Session) track(conn Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.ended {
		_ = conn.Close()
		return false
	}
	s.conns = append(s.conns, conn)
	return true
}

func (s *Session) closeConns() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.ended = true
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func (s *Session) newHandshakeTimer() *time.Timer {
	if s.cfg.HandshakeTimeout <= 0 {
		return nil
	}
	return time.NewTimer(s.cfg.HandshakeTimeout)
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
