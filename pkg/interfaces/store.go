package interfaces

import (
	"context"
	"time"

	"chatrelay/pkg/types"
)

// MessageStore persists relayed messages.
// Both database.Manager (SQLite) and database.PostgresStore implement it.
type MessageStore interface {
	// CreateMessage stores a new unread message and returns it with its id and creation time.
	CreateMessage(ctx context.Context, senderID, receiverID types.UserID, content string) (*types.Message, error)

	// ListBetween returns every message exchanged by the two users in either direction,
	// ascending by creation time.
	ListBetween(ctx context.Context, userA, userB types.UserID) ([]*types.Message, error)

	// MarkRead marks the given messages read at readAt and returns how many changed state.
	// Messages that are already read keep their first read time.
	MarkRead(ctx context.Context, ids []int64, readAt time.Time) (int64, error)

	// CountUnread counts unread messages sent by fromUserID to userID.
	CountUnread(ctx context.Context, userID, fromUserID types.UserID) (int64, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
