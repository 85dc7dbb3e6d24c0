package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type MsgType int

const (
	MsgHandshakeRequest      MsgType = 1
	MsgHandshakeResponse     MsgType = 2
	MsgDataHandshakeRequest  MsgType = 3
	MsgDataHandshakeResponse MsgType = 4
	MsgClientReadyAck        MsgType = 7
	MsgKeepAliveRequest      MsgType = 12
	MsgAudioContent          MsgType = 14
	MsgVideoContent          MsgType = 15
	MsgTranscriptContent     MsgType = 17
)

// The provider answers keep-alives on both channels with tag 13. The two
// names are kept apart so each channel states which reply it sends.
const (
	MsgKeepAliveResponse MsgType = 13
	MsgKeepAliveAck      MsgType = 13
)

func (t MsgType) String() string {
	switch t {
	case MsgHandshakeRequest:
		return "HANDSHAKE_REQUEST"
	case MsgHandshakeResponse:
		return "HANDSHAKE_RESPONSE"
	case MsgDataHandshakeRequest:
		return "DATA_HANDSHAKE_REQUEST"
	case MsgDataHandshakeResponse:
		return "DATA_HANDSHAKE_RESPONSE"
	case MsgClientReadyAck:
		return "CLIENT_READY_ACK"
	case MsgKeepAliveRequest:
		return "KEEP_ALIVE_REQUEST"
	case MsgKeepAliveResponse:
		return "KEEP_ALIVE_RESPONSE"
	case MsgAudioContent:
		return "AUDIO_CONTENT"
	case MsgVideoContent:
		return "VIDEO_CONTENT"
	case MsgTranscriptContent:
		return "TRANSCRIPT_CONTENT"
	default:
		return "UNKNOWN"
	}
}

const (
	StatusOK = 0

	ProtocolVersion = 1
)

type Role string

const (
	RoleSignaling Role = "signaling"
	RoleMedia     Role = "media"
)

// ContentType is the media_type bitset negotiated on the media channel.
type ContentType int

const (
	ContentAudio      ContentType = 1
	ContentVideo      ContentType = 2
	ContentTranscript ContentType = 8
)

func (c ContentType) Has(flag ContentType) bool {
	return c&flag == flag
}

func (c ContentType) String() string {
	var parts []string
	if c.Has(ContentAudio) {
		parts = append(parts, "audio")
	}
	if c.Has(ContentVideo) {
		parts = append(parts, "video")
	}
	if c.Has(ContentTranscript) {
		parts = append(parts, "transcript")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

var ErrNoContentType = errors.New("no content type selected")

// ParseContentTypes accepts a comma separated list such as "audio,transcript".
func ParseContentTypes(s string) (ContentType, error) {
	var mask ContentType
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "":
		case "audio":
			mask |= ContentAudio
		case "video":
			mask |= ContentVideo
		case "transcript":
			mask |= ContentTranscript
		default:
			return 0, fmt.Errorf("unknown content type %q", part)
		}
	}
	if mask == 0 {
		return 0, ErrNoContentType
	}
	return mask, nil
}

type Message interface {
	Type() MsgType
}

type HandshakeRequest struct {
	MeetingUUID string `json:"meeting_uuid"`
	SessionID   string `json:"session_id"`
	StreamID    string `json:"rtms_stream_id"`
	Signature   string `json:"signature"`
}

func (HandshakeRequest) Type() MsgType { return MsgHandshakeRequest }

type ServerURLs struct {
	Audio      string `json:"audio,omitempty"`
	Video      string `json:"video,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	All        string `json:"all,omitempty"`
}

type MediaServer struct {
	ServerURLs ServerURLs `json:"server_urls"`
}

type HandshakeResponse struct {
	StatusCode  int         `json:"status_code"`
	Reason      string      `json:"reason,omitempty"`
	MediaServer MediaServer `json:"media_server"`
}

func (HandshakeResponse) Type() MsgType { return MsgHandshakeResponse }

// MediaURL picks the media server address matching the subscribed content.
func (r HandshakeResponse) MediaURL(mask ContentType) string {
	urls := r.MediaServer.ServerURLs
	var preferred string
	switch mask {
	case ContentTranscript:
		preferred = urls.Transcript
	case ContentAudio:
		preferred = urls.Audio
	case ContentVideo:
		preferred = urls.Video
	default:
		preferred = urls.All
	}
	if preferred != "" {
		return preferred
	}
	for _, u := range []string{urls.All, urls.Audio, urls.Transcript, urls.Video} {
		if u != "" {
			return u
		}
	}
	return ""
}

type DataHandshakeRequest struct {
	ProtocolVersion int         `json:"protocol_version"`
	Sequence        int64       `json:"sequence"`
	MeetingUUID     string      `json:"meeting_uuid"`
	SessionID       string      `json:"session_id"`
	StreamID        string      `json:"rtms_stream_id"`
	Signature       string      `json:"signature"`
	MediaType       ContentType `json:"media_type"`
}

func (DataHandshakeRequest) Type() MsgType { return MsgDataHandshakeRequest }

type DataHandshakeResponse struct {
	StatusCode int    `json:"status_code"`
	Reason     string `json:"reason,omitempty"`
}

func (DataHandshakeResponse) Type() MsgType { return MsgDataHandshakeResponse }

type ClientReadyAck struct {
	StreamID string `json:"rtms_stream_id"`
}

func (ClientReadyAck) Type() MsgType { return MsgClientReadyAck }

// KeepAliveRequest keeps the provider's timestamp token as sent so replies
// echo it byte for byte, whatever JSON form it takes.
type KeepAliveRequest struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

func (KeepAliveRequest) Type() MsgType { return MsgKeepAliveRequest }

// UnixMillis renders a millisecond timestamp for outbound keep-alive requests.
func UnixMillis(ms int64) json.RawMessage {
	return json.RawMessage(strconv.FormatInt(ms, 10))
}

type KeepAliveResponse struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

func (KeepAliveResponse) Type() MsgType { return MsgKeepAliveResponse }

type KeepAliveAck struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

func (KeepAliveAck) Type() MsgType { return MsgKeepAliveAck }

type MediaPayload struct {
	UserID    int64  `json:"user_id,omitempty"`
	Data      []byte `json:"data"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type AudioContent struct {
	Content MediaPayload `json:"content"`
}

func (AudioContent) Type() MsgType { return MsgAudioContent }

type VideoContent struct {
	Content MediaPayload `json:"content"`
}

func (VideoContent) Type() MsgType { return MsgVideoContent }

type Speaker struct {
	UserID   int64  `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
}

type TranscriptPayload struct {
	Speaker
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type TranscriptContent struct {
	Content TranscriptPayload `json:"content"`
}

func (TranscriptContent) Type() MsgType { return MsgTranscriptContent }
