package dispatcher

import (
	"sync"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateConnected State = iota
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is the per-connection protocol state: Connected, then Joined, then Disconnected.
// Disconnected is terminal.
type Session struct {
	conn interfaces.Connection

	mu     sync.Mutex
	state  State
	userID types.UserID
}

func newSession(conn interfaces.Connection) *Session {
	return &Session{conn: conn, state: StateConnected}
}

// Conn returns the underlying connection.
func (s *Session) Conn() interfaces.Connection {
	return s.conn
}

// ID returns the connection id.
func (s *Session) ID() string {
	return s.conn.ID()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the joined user, or zero before join.
func (s *Session) UserID() types.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) markJoined(userID types.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return false
	}
	s.state = StateJoined
	s.userID = userID
	return true
}

// markDisconnected reports whether this call moved the session to Disconnected.
func (s *Session) markDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return false
	}
	s.state = StateDisconnected
	return true
}

func (s *Session) send(env types.OutboundEnvelope) error {
	return s.conn.Send(env)
}
