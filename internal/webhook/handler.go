package webhook

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/eleven-am/rtms-sentiment/internal/dto"
	"github.com/eleven-am/rtms-sentiment/internal/metrics"
	"github.com/eleven-am/rtms-sentiment/internal/rtms"
	"github.com/eleven-am/rtms-sentiment/internal/shared"
	"github.com/eleven-am/rtms-sentiment/internal/signing"
	"github.com/labstack/echo/v4"
)

const Banner = "RTMS for Video SDK Sample Server Running."

// Sessions is the part of the session controller driven by webhook events.
type Sessions interface {
	Start(p rtms.StartParams) (*rtms.Session, error)
	Stop(sessionID string) error
}

type Handler struct {
	sessions Sessions
	tokens   *signing.TokenIssuer
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewHandler wires the webhook endpoints. tokens may be nil when no Video SDK
// credentials are configured; the token endpoint then answers 503.
func NewHandler(sessions Sessions, tokens *signing.TokenIssuer, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		tokens:   tokens,
		metrics:  m,
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo, limit echo.MiddlewareFunc) {
	e.GET("/", h.Index)
	if limit != nil {
		e.POST("/webhook", h.Webhook, limit)
	} else {
		e.POST("/webhook", h.Webhook)
	}
	e.GET("/v1/token", h.Token)
}

func (h *Handler) Index(c echo.Context) error {
	return c.String(http.StatusOK, Banner)
}

// Webhook dispatches provider events. Stream start and stop drive the session
// controller; every other event is acknowledged and ignored.
func (h *Handler) Webhook(c echo.Context) error {
	var req dto.WebhookRequest
	if err := c.Bind(&req); err != nil {
		h.metrics.WebhookEvent("unknown", "invalid")
		return shared.BadRequest("invalid_request", "invalid request body")
	}

	switch eventKind(req.Event) {
	case dto.EventRTMSStarted:
		return h.started(c, req)
	case dto.EventRTMSStopped:
		return h.stopped(c, req)
	default:
		h.logger.Debug("ignoring webhook event", "event", req.Event)
		h.metrics.WebhookEvent("other", "ignored")
		return c.JSON(http.StatusOK, dto.WebhookResponse{Status: "ignored"})
	}
}

func (h *Handler) started(c echo.Context, req dto.WebhookRequest) error {
	p := req.Payload
	params := rtms.StartParams{
		SessionID:    p.ID(),
		StreamID:     p.StreamID,
		SignalingURL: strings.TrimSpace(p.ServerURLs),
	}

	if missing := missingFields(params); len(missing) > 0 {
		h.metrics.WebhookEvent(dto.EventRTMSStarted, "invalid")
		return shared.NewAPIError("invalid_payload", "missing required fields").
			WithDetails(missing).
			ToHTTP(http.StatusBadRequest)
	}

	h.logger.Info("stream started", "event", req.Event, "session_id", params.SessionID, "stream_id", params.StreamID)

	if _, err := h.sessions.Start(params); err != nil {
		switch {
		case errors.Is(err, rtms.ErrSessionExists):
			h.metrics.WebhookEvent(dto.EventRTMSStarted, "duplicate")
			return shared.Conflict("session_exists", "session is already streaming")
		case errors.Is(err, rtms.ErrInvalidStart):
			h.metrics.WebhookEvent(dto.EventRTMSStarted, "invalid")
			return shared.BadRequest("invalid_payload", err.Error())
		case errors.Is(err, rtms.ErrControllerClosed):
			h.metrics.WebhookEvent(dto.EventRTMSStarted, "error")
			return shared.ServiceUnavailable("shutting_down", "server is shutting down")
		default:
			h.logger.Error("failed to start session", "session_id", params.SessionID, "error", err)
			h.metrics.WebhookEvent(dto.EventRTMSStarted, "error")
			return shared.InternalError("start_failed", "failed to start session")
		}
	}

	h.metrics.WebhookEvent(dto.EventRTMSStarted, "ok")
	return c.JSON(http.StatusOK, dto.WebhookResponse{Status: "started", SessionID: params.SessionID})
}

func (h *Handler) stopped(c echo.Context, req dto.WebhookRequest) error {
	id := req.Payload.ID()
	if id == "" {
		h.metrics.WebhookEvent(dto.EventRTMSStopped, "invalid")
		return shared.NewAPIError("invalid_payload", "missing required fields").
			WithDetails([]dto.ValidationError{{Field: "session_id", Message: "session_id is required"}}).
			ToHTTP(http.StatusBadRequest)
	}

	h.logger.Info("stream stopped", "event", req.Event, "session_id", id)

	if err := h.sessions.Stop(id); err != nil {
		if errors.Is(err, rtms.ErrSessionNotFound) {
			h.metrics.WebhookEvent(dto.EventRTMSStopped, "not_found")
			return shared.NotFound("session_not_found", "session not found")
		}
		h.logger.Error("failed to stop session", "session_id", id, "error", err)
		h.metrics.WebhookEvent(dto.EventRTMSStopped, "error")
		return shared.InternalError("stop_failed", "failed to stop session")
	}

	h.metrics.WebhookEvent(dto.EventRTMSStopped, "ok")
	return c.JSON(http.StatusOK, dto.WebhookResponse{Status: "stopped", SessionID: id})
}

// Token issues a Video SDK session token for the topic given in ?session=.
func (h *Handler) Token(c echo.Context) error {
	if h.tokens == nil {
		return shared.ServiceUnavailable("token_unavailable", "video sdk credentials are not configured")
	}

	topic := c.QueryParam("session")
	if topic == "" {
		return shared.BadRequest("invalid_request", "session is required")
	}

	role := signing.RoleParticipant
	if raw := c.QueryParam("role"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return shared.BadRequest("invalid_request", "role must be 0 or 1")
		}
		role = signing.Role(n)
	}

	token, expiresAt, err := h.tokens.Issue(topic, role)
	if err != nil {
		if errors.Is(err, signing.ErrEmptyTopic) || errors.Is(err, signing.ErrTopicTooLong) || errors.Is(err, signing.ErrInvalidRole) {
			return shared.BadRequest("invalid_request", err.Error())
		}
		h.logger.Error("failed to issue token", "topic", topic, "error", err)
		return shared.InternalError("token_failed", "failed to issue token")
	}

	return c.JSON(http.StatusOK, dto.TokenResponse{
		Token:     token,
		Topic:     topic,
		Role:      int(role),
		ExpiresAt: expiresAt,
	})
}

// eventKind maps "session.rtms_started" and "meeting.rtms_started" to the
// same kind.
func eventKind(event string) string {
	if i := strings.LastIndexByte(event, '.'); i >= 0 {
		return event[i+1:]
	}
	return event
}

func missingFields(p rtms.StartParams) []dto.ValidationError {
	var missing []dto.ValidationError
	if p.SessionID == "" {
		missing = append(missing, dto.ValidationError{Field: "session_id", Message: "session_id is required"})
	}
	if p.StreamID == "" {
		missing = append(missing, dto.ValidationError{Field: "rtms_stream_id", Message: "rtms_stream_id is required"})
	}
	if p.SignalingURL == "" {
		missing = append(missing, dto.ValidationError{Field: "server_urls", Message: "server_urls is required"})
	}
	return missing
}
