package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventJoinChat        = "joinChat"
	EventSendMessage     = "sendMessage"
	EventLoadChatHistory = "loadChatHistory"
	EventTyping          = "typing"
	EventStopTyping      = "stopTyping"
	EventMarkAsRead      = "markAsRead"
	EventCheckOnline     = "checkOnline"
)

// Outbound event names.
const (
	EventAck          = "ack"
	EventUserOnline   = "userOnline"
	EventUserOffline  = "userOffline"
	EventOnlineUsers  = "onlineUsers"
	EventNewMessage   = "newMessage"
	EventChatHistory  = "chatHistory"
	EventUserTyping   = "userTyping"
	EventMessagesRead = "messagesRead"
	EventOnlineStatus = "onlineStatus"
)

// InboundEvents lists every event a client may send. The dispatcher refuses to start
// unless each one has exactly one handler.
var InboundEvents = []string{
	EventJoinChat,
	EventSendMessage,
	EventLoadChatHistory,
	EventTyping,
	EventStopTyping,
	EventMarkAsRead,
	EventCheckOnline,
}

// UserRef is a payload that carries a single user id, either as a bare number
// (`5`) or as an object (`{"userId": 5}`).
type UserRef struct {
	UserID UserID `json:"userId" validate:"required,gt=0"`
}

func (u *UserRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		type plain UserRef
		var p plain
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return err
		}
		*u = UserRef(p)
		return nil
	}
	var id UserID
	if err := json.Unmarshal(trimmed, &id); err != nil {
		return err
	}
	u.UserID = id
	return nil
}

// SendMessageRequest is the sendMessage payload.
type SendMessageRequest struct {
	SenderID   UserID `json:"senderId" validate:"required,gt=0"`
	ReceiverID UserID `json:"receiverId" validate:"required,gt=0"`
	Content    string `json:"content" validate:"required,notblank,max=65536"`
}

// HistoryRequest is the loadChatHistory payload.
type HistoryRequest struct {
	UserID   UserID `json:"userId" validate:"required,gt=0"`
	FriendID UserID `json:"friendId" validate:"required,gt=0"`
}

// TypingRequest is the typing/stopTyping payload.
type TypingRequest struct {
	SenderID   UserID `json:"senderId" validate:"required,gt=0"`
	ReceiverID UserID `json:"receiverId" validate:"required,gt=0"`
}

// MarkAsReadRequest is the markAsRead payload.
type MarkAsReadRequest struct {
	MessageIDs []int64 `json:"messageIds" validate:"required,min=1,dive,gt=0"`
	ReaderID   UserID  `json:"readerId" validate:"required,gt=0"`
	SenderID   UserID  `json:"senderId" validate:"required,gt=0"`
}

// PresenceEvent is the userOnline/userOffline payload.
type PresenceEvent struct {
	UserID UserID `json:"userId"`
}

// TypingEvent is the userTyping payload. It is never stored.
type TypingEvent struct {
	UserID   UserID `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ReadReceipt is the messagesRead payload.
type ReadReceipt struct {
	MessageIDs []int64   `json:"messageIds"`
	ReaderID   UserID    `json:"readerId"`
	ReadAt     time.Time `json:"readAt"`
}

// OnlineStatus is the onlineStatus payload.
type OnlineStatus struct {
	UserID   UserID `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}
