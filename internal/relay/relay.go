// Package relay implements the messaging use cases: send, history, read receipts and typing.
package relay

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"chatrelay/internal/metrics"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Emitter delivers an event to every live connection of a user.
type Emitter interface {
	EmitToUser(userID types.UserID, event string, data any) error
}

// Relay persists messages through the store and fans them out through the router.
type Relay struct {
	store   interfaces.MessageStore
	emitter Emitter
	log     zerolog.Logger
	now     func() time.Time
}

// New creates a relay.
func New(store interfaces.MessageStore, emitter Emitter, log zerolog.Logger) *Relay {
	return &Relay{
		store:   store,
		emitter: emitter,
		log:     log.With().Str("component", "relay").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SendMessage stores the message and then delivers newMessage to the sender's and
// receiver's rooms. Nothing is delivered if the store fails.
func (r *Relay) SendMessage(ctx context.Context, req types.SendMessageRequest) (*types.Message, error) {
	if err := types.Validate(&req); err != nil {
		return nil, err
	}

	timer := prometheus.NewTimer(metrics.StoreLatency.WithLabelValues("create"))
	msg, err := r.store.CreateMessage(ctx, req.SenderID, req.ReceiverID, req.Content)
	timer.ObserveDuration()
	if err != nil {
		return nil, &types.PersistenceError{Op: "create", Err: err}
	}
	metrics.MessagesRelayed.Inc()

	r.log.Debug().
		Int64("message_id", msg.ID).
		Stringer("sender_id", msg.SenderID).
		Stringer("receiver_id", msg.ReceiverID).
		Msg("message stored")

	for _, userID := range lo.Uniq([]types.UserID{msg.SenderID, msg.ReceiverID}) {
		r.emit(userID, types.EventNewMessage, msg)
	}
	return msg, nil
}

// LoadHistory returns the conversation between two users in creation order.
func (r *Relay) LoadHistory(ctx context.Context, req types.HistoryRequest) ([]*types.Message, error) {
	if err := types.Validate(&req); err != nil {
		return nil, err
	}

	timer := prometheus.NewTimer(metrics.StoreLatency.WithLabelValues("list"))
	messages, err := r.store.ListBetween(ctx, req.UserID, req.FriendID)
	timer.ObserveDuration()
	if err != nil {
		return nil, &types.PersistenceError{Op: "list", Err: err}
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	return messages, nil
}

// MarkAsRead marks messages read and notifies the original sender's room.
// It returns how many messages changed state; repeating a call changes none.
func (r *Relay) MarkAsRead(ctx context.Context, req types.MarkAsReadRequest) (int64, error) {
	if err := types.Validate(&req); err != nil {
		return 0, err
	}

	ids := lo.Uniq(req.MessageIDs)
	readAt := r.now()

	timer := prometheus.NewTimer(metrics.StoreLatency.WithLabelValues("mark_read"))
	count, err := r.store.MarkRead(ctx, ids, readAt)
	timer.ObserveDuration()
	if err != nil {
		return 0, &types.PersistenceError{Op: "mark_read", Err: err}
	}

	r.emit(req.SenderID, types.EventMessagesRead, types.ReadReceipt{
		MessageIDs: ids,
		ReaderID:   req.ReaderID,
		ReadAt:     readAt,
	})
	return count, nil
}

// Typing forwards a typing signal to the receiver's room. It is never stored.
func (r *Relay) Typing(req types.TypingRequest, isTyping bool) error {
	if err := types.Validate(&req); err != nil {
		return err
	}
	r.emit(req.ReceiverID, types.EventUserTyping, types.TypingEvent{UserID: req.SenderID, IsTyping: isTyping})
	return nil
}

// UnreadCount counts unread messages fromUserID sent to userID.
func (r *Relay) UnreadCount(ctx context.Context, userID, fromUserID types.UserID) (int64, error) {
	if userID <= 0 {
		return 0, &types.ValidationError{Field: "userId", Reason: "must be greater than 0"}
	}
	if fromUserID <= 0 {
		return 0, &types.ValidationError{Field: "fromUserId", Reason: "must be greater than 0"}
	}

	timer := prometheus.NewTimer(metrics.StoreLatency.WithLabelValues("count_unread"))
	count, err := r.store.CountUnread(ctx, userID, fromUserID)
	timer.ObserveDuration()
	if err != nil {
		return 0, &types.PersistenceError{Op: "count_unread", Err: err}
	}
	return count, nil
}

// emit is fire-and-forget: a fan-out failure is logged and never reaches the caller.
func (r *Relay) emit(userID types.UserID, event string, data any) {
	if err := r.emitter.EmitToUser(userID, event, data); err != nil {
		r.log.Warn().Err(err).Stringer("user_id", userID).Str("event", event).Msg("fan-out failed")
	}
}
