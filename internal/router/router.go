package router

import (
	"fmt"

	"github.com/rs/zerolog"

	"chatrelay/internal/hub"
	"chatrelay/internal/metrics"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// BroadcastRoom names the destination that covers every connected session.
const BroadcastRoom = "*"

// Directory resolves users to live connections. *registry.Registry implements it.
type Directory interface {
	ConnectionsFor(userID types.UserID) []interfaces.Connection
	AllConnections() []interfaces.Connection
}

// Publisher queues deliveries for fan-out. *hub.Hub implements it.
type Publisher interface {
	Publish(d hub.Delivery) error
}

// Destination is a room resolved to the connections it covered at resolution time.
type Destination struct {
	Room    string
	Targets []interfaces.Connection
}

// Empty reports whether nobody is reachable through the destination.
func (d Destination) Empty() bool {
	return len(d.Targets) == 0
}

// Router maps users to rooms and hands fan-out to the hub.
// Rooms are plain registry lookups; nothing is cached between calls.
type Router struct {
	directory Directory
	publisher Publisher
	log       zerolog.Logger
}

// NewRouter creates a router over the given directory and publisher.
func NewRouter(directory Directory, publisher Publisher, log zerolog.Logger) *Router {
	return &Router{
		directory: directory,
		publisher: publisher,
		log:       log.With().Str("component", "router").Logger(),
	}
}

// RoomFor returns the stable room name for a user.
func RoomFor(userID types.UserID) string {
	return fmt.Sprintf("user_%d", userID)
}

// TargetsFor resolves a user's room to the connections joined as that user right now.
func (r *Router) TargetsFor(userID types.UserID) Destination {
	return Destination{
		Room:    RoomFor(userID),
		Targets: r.directory.ConnectionsFor(userID),
	}
}

// BroadcastAll resolves every connected session, joined or not.
func (r *Router) BroadcastAll() Destination {
	return Everyone(r.directory.AllConnections())
}

// Everyone builds a broadcast destination from an already-resolved connection list.
func Everyone(conns []interfaces.Connection) Destination {
	return Destination{Room: BroadcastRoom, Targets: conns}
}

// Emit queues event for every connection in dest. An empty destination is a silent no-op:
// the user is offline and will pick the data up through history.
func (r *Router) Emit(dest Destination, event string, data any) error {
	if dest.Empty() {
		metrics.DeferredDeliveries.Inc()
		r.log.Debug().Str("room", dest.Room).Str("event", event).Msg("no live connections, fan-out skipped")
		return nil
	}

	err := r.publisher.Publish(hub.Delivery{
		Room:     dest.Room,
		Targets:  dest.Targets,
		Envelope: types.OutboundEnvelope{Event: event, Data: data},
	})
	if err != nil {
		return fmt.Errorf("fan-out %s to %s: %w", event, dest.Room, err)
	}
	return nil
}

// EmitToUser resolves the user's room and emits to it.
func (r *Router) EmitToUser(userID types.UserID, event string, data any) error {
	return r.Emit(r.TargetsFor(userID), event, data)
}
