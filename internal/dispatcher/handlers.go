package dispatcher

import (
	"context"
	"fmt"

	"chatrelay/pkg/types"
)

func (d *Dispatcher) handleJoinChat(_ context.Context, s *Session, env types.Envelope) (result, error) {
	var req types.UserRef
	if err := types.Decode(env.Data, &req); err != nil {
		return result{}, err
	}

	joined, err := d.registry.Join(s.Conn(), req.UserID)
	if err != nil {
		return result{}, err
	}
	if !s.markJoined(req.UserID) {
		// Lost a race with Disconnect; undo the registry side.
		d.registry.Disconnect(s.ID())
		return result{}, types.ErrSessionClosed
	}

	d.log.Info().
		Str("conn_id", s.ID()).
		Stringer("user_id", req.UserID).
		Bool("went_online", joined.WentOnline).
		Msg("user joined")

	return result{
		data:  map[string]string{"message": fmt.Sprintf("Joined as user %s", req.UserID)},
		after: func() { d.notifier.SendSnapshot(s.Conn(), joined.Snapshot) },
	}, nil
}

func (d *Dispatcher) handleSendMessage(ctx context.Context, s *Session, env types.Envelope) (result, error) {
	var req types.SendMessageRequest
	if err := types.Decode(env.Data, &req); err != nil {
		return result{}, err
	}
	d.checkIdentity(s, env.Event, req.SenderID)

	msg, err := d.relay.SendMessage(ctx, req)
	if err != nil {
		return result{}, err
	}
	return result{data: msg}, nil
}

func (d *Dispatcher) handleLoadChatHistory(ctx context.Context, s *Session, env types.Envelope) (result, error) {
	var req types.HistoryRequest
	if err := types.Decode(env.Data, &req); err != nil {
		return result{}, err
	}
	d.checkIdentity(s, env.Event, req.UserID)

	messages, err := d.relay.LoadHistory(ctx, req)
	if err != nil {
		return result{}, err
	}
	if err := s.send(types.OutboundEnvelope{Event: types.EventChatHistory, Data: messages}); err != nil {
		d.log.Debug().Err(err).Str("conn_id", s.ID()).Msg("chat history dropped")
	}
	return result{data: map[string]int{"count": len(messages)}}, nil
}

func (d *Dispatcher) handleTyping(isTyping bool) Handler {
	return func(_ context.Context, s *Session, env types.Envelope) (result, error) {
		var req types.TypingRequest
		if err := types.Decode(env.Data, &req); err != nil {
			return result{}, err
		}
		d.checkIdentity(s, env.Event, req.SenderID)

		if err := d.relay.Typing(req, isTyping); err != nil {
			return result{}, err
		}
		return result{}, nil
	}
}

func (d *Dispatcher) handleMarkAsRead(ctx context.Context, s *Session, env types.Envelope) (result, error) {
	var req types.MarkAsReadRequest
	if err := types.Decode(env.Data, &req); err != nil {
		return result{}, err
	}
	d.checkIdentity(s, env.Event, req.ReaderID)

	count, err := d.relay.MarkAsRead(ctx, req)
	if err != nil {
		return result{}, err
	}
	return result{data: map[string]int64{"count": count}}, nil
}

func (d *Dispatcher) handleCheckOnline(_ context.Context, s *Session, env types.Envelope) (result, error) {
	var req types.UserRef
	if err := types.Decode(env.Data, &req); err != nil {
		return result{}, err
	}

	status := types.OnlineStatus{UserID: req.UserID, IsOnline: d.registry.IsOnline(req.UserID)}
	if err := s.send(types.OutboundEnvelope{Event: types.EventOnlineStatus, Data: status}); err != nil {
		d.log.Debug().Err(err).Str("conn_id", s.ID()).Msg("online status dropped")
	}
	return result{data: status}, nil
}

// checkIdentity logs when a payload claims an identity other than the joined one.
// Payload ids are not authorized, only observed.
func (d *Dispatcher) checkIdentity(s *Session, event string, claimed types.UserID) {
	if joined := s.UserID(); joined != 0 && claimed != joined {
		d.log.Warn().
			Str("conn_id", s.ID()).
			Str("event", event).
			Stringer("session_user", joined).
			Stringer("payload_user", claimed).
			Msg("payload identity differs from session")
	}
}
