package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// UserID identifies a chat participant. Identities are issued upstream; zero means missing.
type UserID int64

func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseUserID parses a decimal user id as it appears in URLs and query strings.
func ParseUserID(s string) (UserID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, &ValidationError{Field: "userId", Reason: fmt.Sprintf("invalid user id %q", s)}
	}
	return UserID(v), nil
}

// Message is one relayed chat message.
// Only IsRead and ReadAt change after creation, and only from unread to read.
type Message struct {
	ID         int64      `json:"id"`
	SenderID   UserID     `json:"senderId"`
	ReceiverID UserID     `json:"receiverId"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"createdAt"`
	IsRead     bool       `json:"isRead"`
	ReadAt     *time.Time `json:"readAt"`
}

// Envelope is the frame written to and read from a connection.
// ID correlates an acknowledgment with the request that asked for it.
type Envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEnvelope is what the server writes. Data is marshaled lazily by the connection.
type OutboundEnvelope struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Ack is the structured acknowledgment returned to the originating connection.
type Ack struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK builds a successful acknowledgment.
func OK(data any) Ack {
	return Ack{Success: true, Data: data}
}

// Fail builds a failed acknowledgment.
func Fail(msg string) Ack {
	return Ack{Success: false, Error: msg}
}
