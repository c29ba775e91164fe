// Package presence turns registry transitions into presence broadcasts.
package presence

import (
	"github.com/rs/zerolog"

	"chatrelay/internal/metrics"
	"chatrelay/internal/registry"
	"chatrelay/internal/router"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Emitter is the part of the router the notifier needs.
type Emitter interface {
	Emit(dest router.Destination, event string, data any) error
}

// Notifier broadcasts userOnline/userOffline and sends the online snapshot to joiners.
type Notifier struct {
	emitter Emitter
	log     zerolog.Logger
}

// NewNotifier creates a notifier that emits through the given router.
func NewNotifier(emitter Emitter, log zerolog.Logger) *Notifier {
	return &Notifier{
		emitter: emitter,
		log:     log.With().Str("component", "presence").Logger(),
	}
}

// Attach installs the notifier as the registry's transition hook.
func (n *Notifier) Attach(reg *registry.Registry) {
	reg.OnTransition(n.HandleTransition)
}

// HandleTransition runs under the registry lock; Emit only enqueues, so it never blocks there.
func (n *Notifier) HandleTransition(t registry.Transition, everyone []interfaces.Connection) {
	event, state := types.EventUserOffline, "offline"
	if t.Online {
		event, state = types.EventUserOnline, "online"
		metrics.UsersOnline.Inc()
	} else {
		metrics.UsersOnline.Dec()
	}
	metrics.PresenceTransitions.WithLabelValues(state).Inc()

	n.log.Info().Stringer("user_id", t.UserID).Str("state", state).Msg("presence changed")

	if err := n.emitter.Emit(router.Everyone(everyone), event, types.PresenceEvent{UserID: t.UserID}); err != nil {
		n.log.Error().Err(err).Stringer("user_id", t.UserID).Str("event", event).Msg("presence broadcast failed")
	}
}

// SendSnapshot sends the onlineUsers list to the joining connection only.
func (n *Notifier) SendSnapshot(conn interfaces.Connection, snapshot []types.UserID) {
	if snapshot == nil {
		snapshot = []types.UserID{}
	}
	if err := conn.Send(types.OutboundEnvelope{Event: types.EventOnlineUsers, Data: snapshot}); err != nil {
		n.log.Warn().Err(err).Str("conn_id", conn.ID()).Msg("online snapshot dropped")
	}
}
