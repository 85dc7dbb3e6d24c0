package rtms

import (
	"log/slog"

	"github.com/eleven-am/rtms-sentiment/internal/metrics"
	"github.com/eleven-am/rtms-sentiment/internal/protocol"
)

// mediaChannel drives the data connection. It exists only once signaling is
// ready and is touched only by the owning session loop.
type mediaChannel struct {
	fsm       *channelFSM
	conn      Conn
	url       string
	sessionID string
	streamID  string
	signer    Signer
	mask      protocol.ContentType
	sequence  int64
	log       *slog.Logger
	metrics   *metrics.Metrics

	onTranscript func(protocol.TranscriptPayload)
	onAudio      func(protocol.MediaPayload)
}

func newMediaChannel(sig *signalingChannel, url string, log *slog.Logger) (*mediaChannel, error) {
	if sig == nil || sig.State() != StateReady {
		return nil, ErrSignalingNotReady
	}
	return &mediaChannel{
		fsm:       newChannelFSM(protocol.RoleMedia),
		url:       url,
		sessionID: sig.sessionID,
		streamID:  sig.streamID,
		signer:    sig.signer,
		mask:      sig.mask,
		log:       log.With("channel", protocol.RoleMedia),
		metrics:   sig.metrics,
	}, nil
}

func (c *mediaChannel) State() ChannelState {
	return c.fsm.State()
}

// open takes ownership of conn and sends the data handshake request.
func (c *mediaChannel) open(conn Conn) error {
	c.conn = conn
	if err := c.fsm.Transition(StateHandshaking); err != nil {
		return err
	}
	req := protocol.DataHandshakeRequest{
		ProtocolVersion: protocol.ProtocolVersion,
		Sequence:        c.sequence,
		MeetingUUID:     c.sessionID,
		SessionID:       c.sessionID,
		StreamID:        c.streamID,
		Signature:       c.signer.StreamSignature(c.sessionID, c.streamID),
		MediaType:       c.mask,
	}
	c.sequence++
	return send(c.conn, req)
}

// handle processes one decoded frame and reports whether the channel just
// became active.
func (c *mediaChannel) handle(msg protocol.Message) (bool, error) {
	switch m := msg.(type) {
	case protocol.KeepAliveRequest:
		c.metrics.KeepAlive(string(protocol.RoleMedia))
		return false, send(c.conn, protocol.KeepAliveReply(protocol.RoleMedia, m))

	case protocol.DataHandshakeResponse:
		if c.fsm.State() != StateHandshaking {
			c.log.Warn("unexpected data handshake response", "state", c.fsm.State())
			return false, nil
		}
		if m.StatusCode != protocol.StatusOK {
			_ = c.fsm.Transition(StateFailed)
			c.metrics.Handshake(string(protocol.RoleMedia), false)
			return false, &HandshakeError{Role: protocol.RoleMedia, StatusCode: m.StatusCode, Reason: m.Reason}
		}
		if err := c.fsm.Transition(StateActive); err != nil {
			return false, err
		}
		c.metrics.Handshake(string(protocol.RoleMedia), true)
		return true, nil

	case protocol.TranscriptContent:
		if c.fsm.State() != StateActive {
			c.log.Warn("transcript before media handshake", "state", c.fsm.State())
			return false, nil
		}
		c.metrics.Fragment()
		if c.onTranscript != nil {
			c.onTranscript(m.Content)
		}
		return false, nil

	case protocol.AudioContent:
		if c.fsm.State() != StateActive {
			return false, nil
		}
		c.metrics.Audio(len(m.Content.Data))
		if c.onAudio != nil {
			c.onAudio(m.Content)
		}
		return false, nil

	default:
		c.log.Debug("ignoring media message", "type", msg.Type())
		return false, nil
	}
}

func (c *mediaChannel) close(failed bool) {
	c.fsm.Terminate(failed)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
