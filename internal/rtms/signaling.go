package rtms

import (
	"log/slog"

	"github.com/eleven-am/rtms-sentiment/internal/metrics"
	"github.com/eleven-am/rtms-sentiment/internal/protocol"
	"github.com/gorilla/websocket"
)

// Signer produces the handshake signature for a session and stream.
type Signer interface {
	StreamSignature(sessionID, streamID string) string
}

// signalingChannel drives the control connection. It is touched only by the
// owning session loop.
type signalingChannel struct {
	fsm       *channelFSM
	conn      Conn
	sessionID string
	streamID  string
	signer    Signer
	mask      protocol.ContentType
	log       *slog.Logger
	metrics   *metrics.Metrics
}

func newSignalingChannel(sessionID, streamID string, signer Signer, mask protocol.ContentType, log *slog.Logger, m *metrics.Metrics) *signalingChannel {
	return &signalingChannel{
		fsm:       newChannelFSM(protocol.RoleSignaling),
		sessionID: sessionID,
		streamID:  streamID,
		signer:    signer,
		mask:      mask,
		log:       log.With("channel", protocol.RoleSignaling),
		metrics:   m,
	}
}

func (c *signalingChannel) State() ChannelState {
	return c.fsm.State()
}

// open takes ownership of conn and sends the handshake request.
func (c *signalingChannel) open(conn Conn) error {
	c.conn = conn
	if err := c.fsm.Transition(StateHandshaking); err != nil {
		return err
	}
	return send(c.conn, protocol.HandshakeRequest{
		MeetingUUID: c.sessionID,
		SessionID:   c.sessionID,
		StreamID:    c.streamID,
		Signature:   c.signer.StreamSignature(c.sessionID, c.streamID),
	})
}

// handle processes one decoded frame. A non-empty URL is returned exactly once,
// when the handshake succeeds.
func (c *signalingChannel) handle(msg protocol.Message) (string, error) {
	switch m := msg.(type) {
	case protocol.KeepAliveRequest:
		c.metrics.KeepAlive(string(protocol.RoleSignaling))
		return "", send(c.conn, protocol.KeepAliveReply(protocol.RoleSignaling, m))

	case protocol.HandshakeResponse:
		if c.fsm.State() != StateHandshaking {
			c.log.Warn("unexpected handshake response", "state", c.fsm.State())
			return "", nil
		}
		if m.StatusCode != protocol.StatusOK {
			_ = c.fsm.Transition(StateFailed)
			c.metrics.Handshake(string(protocol.RoleSignaling), false)
			return "", &HandshakeError{Role: protocol.RoleSignaling, StatusCode: m.StatusCode, Reason: m.Reason}
		}
		url := m.MediaURL(c.mask)
		if url == "" {
			_ = c.fsm.Transition(StateFailed)
			c.metrics.Handshake(string(protocol.RoleSignaling), false)
			return "", ErrNoMediaServer
		}
		if err := c.fsm.Transition(StateReady); err != nil {
			return "", err
		}
		c.metrics.Handshake(string(protocol.RoleSignaling), true)
		return url, nil

	default:
		c.log.Debug("ignoring signaling message", "type", msg.Type())
		return "", nil
	}
}

// sendReadyAck tells the provider the media channel is streaming.
func (c *signalingChannel) sendReadyAck() error {
	if c.fsm.State() != StateReady {
		return ErrSignalingNotReady
	}
	return send(c.conn, protocol.ClientReadyAck{StreamID: c.streamID})
}

func (c *signalingChannel) close(failed bool) {
	c.fsm.Terminate(failed)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func send(conn Conn, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
