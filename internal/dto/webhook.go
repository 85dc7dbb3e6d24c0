package dto

import "time"

const (
	EventRTMSStarted = "rtms_started"
	EventRTMSStopped = "rtms_stopped"
)

type WebhookRequest struct {
	Event   string         `json:"event"`
	EventTS int64          `json:"event_ts,omitempty"`
	Payload WebhookPayload `json:"payload"`
}

// WebhookPayload carries the stream announcement. Video SDK sessions send
// session_id; meetings send meeting_uuid.
type WebhookPayload struct {
	SessionID   string `json:"session_id,omitempty"`
	MeetingUUID string `json:"meeting_uuid,omitempty"`
	StreamID    string `json:"rtms_stream_id"`
	ServerURLs  string `json:"server_urls"`
}

func (p WebhookPayload) ID() string {
	if p.SessionID != "" {
		return p.SessionID
	}
	return p.MeetingUUID
}

type WebhookResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	Topic     string    `json:"topic"`
	Role      int       `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}
