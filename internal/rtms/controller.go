package rtms

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eleven-am/rtms-sentiment/internal/metrics"
	"github.com/eleven-am/rtms-sentiment/internal/transcript"
)

type Deps struct {
	Signer     Signer
	Dialer     Dialer
	Classifier transcript.Classifier
	Deliver    func(transcript.Result)
	Audio      AudioSink
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Controller is the registry of live sessions, keyed by session id.
type Controller struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

func NewController(cfg Config, deps Deps) (*Controller, error) {
	if deps.Signer == nil {
		return nil, errors.New("rtms: signer is required")
	}
	if deps.Classifier == nil {
		return nil, errors.New("rtms: classifier is required")
	}
	if cfg.Transcript.Threshold <= 0 {
		return nil, transcript.ErrInvalidThreshold
	}
	if cfg.ContentTypes == 0 {
		return nil, errors.New("rtms: at least one content type is required")
	}
	if deps.Dialer == nil {
		deps.Dialer = NewWSDialer()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger.With("component", "rtms_controller"),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}, nil
}

// Start registers a session and begins connecting its signaling channel. A
// second start for a live session id is rejected and leaves the existing
// session untouched.
func (c *Controller) Start(p StartParams) (*Session, error) {
	if !p.valid() {
		return nil, ErrInvalidStart
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrControllerClosed
	}
	if _, exists := c.sessions[p.SessionID]; exists {
		c.mu.Unlock()
		c.log.Warn("rejecting duplicate session start", "session_id", p.SessionID, "stream_id", p.StreamID)
		return nil, ErrSessionExists
	}

	s, ctx, err := c.newSession(p)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.sessions[p.SessionID] = s
	c.mu.Unlock()

	c.deps.Metrics.SessionStarted()
	c.log.Info("session started", "session_id", p.SessionID, "stream_id", p.StreamID)

	go s.run(ctx)

	return s, nil
}

func (c *Controller) newSession(p StartParams) (*Session, context.Context, error) {
	log := c.deps.Logger.With("session_id", p.SessionID, "stream_id", p.StreamID)

	agg, err := transcript.NewAggregator(transcript.Options{
		SessionID:  p.SessionID,
		StreamID:   p.StreamID,
		Config:     c.cfg.Transcript,
		Classifier: c.deps.Classifier,
		Deliver:    c.deps.Deliver,
		Logger:     log,
		Metrics:    c.deps.Metrics,
	})
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(c.ctx)
	s := &Session{
		ID:           p.SessionID,
		StreamID:     p.StreamID,
		SignalingURL: p.SignalingURL,
		StartedAt:    time.Now().UTC(),
		cfg:          c.cfg,
		dialer:       c.deps.Dialer,
		log:          log,
		metrics:      c.deps.Metrics,
		audio:        c.deps.Audio,
		aggregator:   agg,
		signaling:    newSignalingChannel(p.SessionID, p.StreamID, c.deps.Signer, c.cfg.ContentTypes, log, c.deps.Metrics),
		onEnd:        c.remove,
		inbox:        make(chan event, inboxSize),
		done:         make(chan struct{}),
		cancel:       cancel,
		state:        SessionConnecting,
	}
	return s, ctx, nil
}

// Stop tears down a live session and waits for both channels to close.
func (c *Controller) Stop(sessionID string) error {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Stop()
	return nil
}

func (c *Controller) Get(sessionID string) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sessionID]
	return s, ok
}

func (c *Controller) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Snapshot returns the state of every live session ordered by start time.
func (c *Controller) Snapshot() []SessionInfo {
	c.mu.RLock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.RUnlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Close stops every session and rejects further starts.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	sessions := make([]*Session, 0, len(c.sessions))
	for id, s := range c.sessions {
		sessions = append(sessions, s)
		delete(c.sessions, id)
	}
	c.mu.Unlock()

	c.cancel()

	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// remove drops a session that ended on its own. The pointer check keeps a
// late exit from evicting a newer session with the same id.
func (c *Controller) remove(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.sessions[s.ID]; ok && current == s {
		delete(c.sessions, s.ID)
	}
}
