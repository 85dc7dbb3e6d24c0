package rtms

import (
	"sync"

	"github.com/eleven-am/rtms-sentiment/internal/protocol"
)

type ChannelState int

const (
	StateIdle ChannelState = iota
	StateConnecting
	StateHandshaking
	StateReady
	StateActive
	StateClosed
	StateFailed
)

func (s ChannelState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s ChannelState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

var signalingTransitions = map[ChannelState][]ChannelState{
	StateIdle:        {StateConnecting, StateClosed},
	StateConnecting:  {StateHandshaking, StateClosed, StateFailed},
	StateHandshaking: {StateReady, StateClosed, StateFailed},
	StateReady:       {StateClosed, StateFailed},
}

var mediaTransitions = map[ChannelState][]ChannelState{
	StateIdle:        {StateConnecting, StateClosed},
	StateConnecting:  {StateHandshaking, StateClosed, StateFailed},
	StateHandshaking: {StateActive, StateClosed, StateFailed},
	StateActive:      {StateClosed, StateFailed},
}

type InvalidTransitionError struct {
	Role protocol.Role
	From ChannelState
	To   ChannelState
}

func (e *InvalidTransitionError) Error() string {
	return string(e.Role) + ": invalid state transition from " + e.From.String() + " to " + e.To.String()
}

// channelFSM guards the state of one channel. Transitions are made only by the
// session loop; the lock lets snapshots read the state from other goroutines.
type channelFSM struct {
	role  protocol.Role
	table map[ChannelState][]ChannelState

	mu    sync.RWMutex
	state ChannelState
}

func newChannelFSM(role protocol.Role) *channelFSM {
	table := signalingTransitions
	if role == protocol.RoleMedia {
		table = mediaTransitions
	}
	return &channelFSM{role: role, table: table, state: StateIdle}
}

func (f *channelFSM) State() ChannelState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

func (f *channelFSM) Transition(to ChannelState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, allowed := range f.table[f.state] {
		if allowed == to {
			f.state = to
			return nil
		}
	}
	return &InvalidTransitionError{Role: f.role, From: f.state, To: to}
}

// Terminate moves the channel to closed or failed unless it already ended.
func (f *channelFSM) Terminate(failed bool) ChannelState {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state.Terminal() {
		return f.state
	}
	if failed && f.state != StateIdle {
		f.state = StateFailed
	} else {
		f.state = StateClosed
	}
	return f.state
}

type SessionState int

const (
	SessionConnecting SessionState = iota
	SessionStreaming
	SessionDegraded
	SessionStopped
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionStreaming:
		return "streaming"
	case SessionDegraded:
		return "degraded"
	case SessionStopped:
		return "stopped"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s SessionState) Terminal() bool {
	return s == SessionStopped || s == SessionFailed
}
