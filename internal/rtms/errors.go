package rtms

import (
	"errors"
	"fmt"

	"github.com/eleven-am/rtms-sentiment/internal/protocol"
)

var (
	ErrSessionExists     = errors.New("rtms: session already active")
	ErrSessionNotFound   = errors.New("rtms: session not found")
	ErrSignalingNotReady = errors.New("rtms: signaling channel is not ready")
	ErrControllerClosed  = errors.New("rtms: controller closed")
	ErrInvalidStart      = errors.New("rtms: session id, stream id and signaling url are required")
	ErrHandshakeTimeout  = errors.New("rtms: handshake timed out")
	ErrNoMediaServer     = errors.New("rtms: handshake response carried no media server url")
)

// HandshakeError reports a non-OK status from either handshake.
type HandshakeError struct {
	Role       protocol.Role
	StatusCode int
	Reason     string
}

func (e *HandshakeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("rtms: %s handshake failed with status %d: %s", e.Role, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("rtms: %s handshake failed with status %d", e.Role, e.StatusCode)
}

type ChannelError struct {
	Role protocol.Role
	Err  error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("rtms: %s channel: %v", e.Role, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
