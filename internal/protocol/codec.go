package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Type   MsgType
	Reason string
	Field  string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	msg := "decode"
	if e.Type != 0 {
		msg += " " + e.Type.String()
	}
	msg += ": " + e.Reason
	if strings.TrimSpace(e.Field) != "" {
		msg += fmt.Sprintf(" (%s)", e.Field)
	}
	return msg
}

func malformed(t MsgType, reason, field string) *DecodeError {
	return &DecodeError{Type: t, Reason: reason, Field: field}
}

type EncodeError struct {
	Type  MsgType
	Field string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %s is required", e.Type, e.Field)
}

// Decode parses one frame. Unknown tags and payloads missing required fields
// yield a *DecodeError.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type *MsgType `json:"msg_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, malformed(0, "invalid json frame", "")
	}
	if envelope.Type == nil {
		return nil, malformed(0, "missing message type", "msg_type")
	}

	typ := *envelope.Type
	switch typ {
	case MsgHandshakeRequest:
		var msg HandshakeRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed(typ, "invalid payload", "")
		}
		return msg, nil
	case MsgHandshakeResponse:
		var msg struct {
			HandshakeResponse
			StatusCode *int `json:"status_code"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed(typ, "invalid payload", "")
		}
		if msg.StatusCode == nil {
			return nil, malformed(typ, "missing status code", "status_code")
		}
		msg.HandshakeResponse.StatusCode = *msg.StatusCode
		return msg.HandshakeResponse, nil
	case MsgDataHandshakeRequest:
		var msg DataHandshakeRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed(typ, "invalid payload", "")
		}
		return msg, nil
	case MsgDataHandshakeResponse:
		var msg struct {
			DataHandshakeResponse
			StatusCode *int `json:"status_code"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed(typ, "invalid payload", "")
		}
		if msg.StatusCode == nil {
			return nil, malformed(typ, "missing status code", "status_code")
		}
		msg.DataHandshakeResponse.StatusCode = *msg.StatusCode
		return msg.DataHandshakeResponse, nil
	case MsgClientReadyAck:
		var msg ClientReadyAck
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed(typ, "invalid payload", "")
		}
		return msg, nil
	case MsgKeepAliveRequest:
		var msg KeepAliveRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed(typ, "invalid payload", "")
		}
		if isAbsent(msg.Timestamp) {
			return nil, malformed(typ, "missing timestamp", "timestamp")
		}
		return msg, nil
	case MsgKeepAliveResponse:
		var msg KeepAliveResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed(typ, "invalid payload", "")
		}
		return msg, nil
	case MsgAudioContent:
		var msg AudioContent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed(typ, "invalid payload", "")
		}
		return msg, nil
	case MsgVideoContent:
		var msg VideoContent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed(typ, "invalid payload", "")
		}
		return msg, nil
	case MsgTranscriptContent:
		var msg TranscriptContent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed(typ, "invalid payload", "")
		}
		return msg, nil
	default:
		return nil, malformed(typ, "unsupported message type", "msg_type")
	}
}

// Encode validates the required fields of msg and renders it with its
// msg_type tag.
func Encode(msg Message) ([]byte, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}

	tag, err := json.Marshal(msg.Type())
	if err != nil {
		return nil, err
	}
	fields["msg_type"] = tag

	return json.Marshal(fields)
}

func validate(msg Message) error {
	switch m := msg.(type) {
	case HandshakeRequest:
		return requireAll(m.Type(), map[string]string{
			"session_id":     m.SessionID,
			"rtms_stream_id": m.StreamID,
			"signature":      m.Signature,
		})
	case DataHandshakeRequest:
		if m.ProtocolVersion <= 0 {
			return &EncodeError{Type: m.Type(), Field: "protocol_version"}
		}
		if m.MediaType == 0 {
			return &EncodeError{Type: m.Type(), Field: "media_type"}
		}
		return requireAll(m.Type(), map[string]string{
			"session_id":     m.SessionID,
			"rtms_stream_id": m.StreamID,
			"signature":      m.Signature,
		})
	case ClientReadyAck:
		return requireAll(m.Type(), map[string]string{"rtms_stream_id": m.StreamID})
	case KeepAliveRequest:
		return requireTimestamp(m.Type(), m.Timestamp)
	case KeepAliveResponse:
		return requireTimestamp(m.Type(), m.Timestamp)
	case KeepAliveAck:
		return requireTimestamp(m.Type(), m.Timestamp)
	case nil:
		return &EncodeError{Field: "message"}
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func requireTimestamp(t MsgType, ts json.RawMessage) error {
	if isAbsent(ts) {
		return &EncodeError{Type: t, Field: "timestamp"}
	}
	return nil
}

func requireAll(t MsgType, fields map[string]string) error {
	for _, name := range []string{"session_id", "rtms_stream_id", "signature"} {
		value, ok := fields[name]
		if ok && strings.TrimSpace(value) == "" {
			return &EncodeError{Type: t, Field: name}
		}
	}
	return nil
}
