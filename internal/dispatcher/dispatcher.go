// Package dispatcher decodes inbound frames, enforces the session state machine and
// routes each event to exactly one handler.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"chatrelay/internal/metrics"
	"chatrelay/internal/presence"
	"chatrelay/internal/registry"
	"chatrelay/internal/relay"
	"chatrelay/internal/router"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Handler runs one inbound event for a session.
type Handler func(ctx context.Context, s *Session, env types.Envelope) (result, error)

// result is a handler's successful outcome. Data goes into the ack; after runs once
// the ack has been written.
type result struct {
	data  any
	after func()
}

type route struct {
	handler      Handler
	requiresJoin bool
	quiet        bool // ack only on failure or when the request carries an id
	limited      bool
}

// Deps are the collaborators the dispatcher routes into.
type Deps struct {
	Registry *registry.Registry
	Notifier *presence.Notifier
	Relay    *relay.Relay
	Limiter  *router.RateLimiter
	Logger   zerolog.Logger
}

// Dispatcher owns the event table.
type Dispatcher struct {
	registry *registry.Registry
	notifier *presence.Notifier
	relay    *relay.Relay
	limiter  *router.RateLimiter
	routes   map[string]route
	log      zerolog.Logger
}

// New builds the dispatcher and validates that every declared inbound event has
// exactly one handler.
func New(deps Deps) (*Dispatcher, error) {
	if deps.Registry == nil || deps.Notifier == nil || deps.Relay == nil {
		return nil, ErrMissingDependency
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = router.NewRateLimiter(0, 0)
	}

	d := &Dispatcher{
		registry: deps.Registry,
		notifier: deps.Notifier,
		relay:    deps.Relay,
		limiter:  limiter,
		log:      deps.Logger.With().Str("component", "dispatcher").Logger(),
	}
	d.routes = d.routeTable()

	if err := validateRoutes(d.routes, types.InboundEvents); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) routeTable() map[string]route {
	return map[string]route{
		types.EventJoinChat:        {handler: d.handleJoinChat},
		types.EventSendMessage:     {handler: d.handleSendMessage, requiresJoin: true, limited: true},
		types.EventLoadChatHistory: {handler: d.handleLoadChatHistory, requiresJoin: true},
		types.EventTyping:          {handler: d.handleTyping(true), requiresJoin: true, quiet: true, limited: true},
		types.EventStopTyping:      {handler: d.handleTyping(false), requiresJoin: true, quiet: true, limited: true},
		types.EventMarkAsRead:      {handler: d.handleMarkAsRead, requiresJoin: true},
		types.EventCheckOnline:     {handler: d.handleCheckOnline, requiresJoin: true},
	}
}

func validateRoutes(routes map[string]route, declared []string) error {
	for _, event := range declared {
		r, ok := routes[event]
		if !ok || r.handler == nil {
			return fmt.Errorf("%w: %s", ErrMissingHandler, event)
		}
	}
	if extra := lo.Without(lo.Keys(routes), declared...); len(extra) > 0 {
		return fmt.Errorf("%w: %s", ErrUndeclaredHandler, extra[0])
	}
	return nil
}

// Connect registers a new transport connection and returns its session.
func (d *Dispatcher) Connect(conn interfaces.Connection) (*Session, error) {
	if err := d.registry.Connect(conn); err != nil {
		return nil, err
	}
	metrics.ConnectionsActive.Inc()
	d.log.Debug().Str("conn_id", conn.ID()).Msg("connection registered")
	return newSession(conn), nil
}

// Disconnect moves the session to its terminal state and removes it from the registry.
// Calling it more than once is harmless.
func (d *Dispatcher) Disconnect(s *Session) {
	if !s.markDisconnected() {
		return
	}
	metrics.ConnectionsActive.Dec()

	res := d.registry.Disconnect(s.ID())
	d.log.Debug().
		Str("conn_id", s.ID()).
		Bool("was_joined", res.WasJoined).
		Bool("went_offline", res.WentOffline).
		Msg("connection removed")
}

// Dispatch handles one raw inbound frame. Every outcome, including a panic inside a
// handler, ends as an ack or a log line; nothing propagates to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, frame []byte) {
	var env types.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		d.log.Warn().Str("conn_id", s.ID()).Msg("malformed frame")
		d.ack(s, "", types.Fail("malformed frame"))
		return
	}
	d.Handle(ctx, s, env)
}

// Handle runs a decoded envelope through the state machine and its route.
func (d *Dispatcher) Handle(ctx context.Context, s *Session, env types.Envelope) {
	r, ok := d.routes[env.Event]
	if !ok {
		metrics.EventsHandled.WithLabelValues("unknown", "error").Inc()
		d.log.Warn().Str("conn_id", s.ID()).Str("event", env.Event).Msg("unknown event")
		d.ack(s, env.ID, types.Fail(fmt.Sprintf("%s: %s", types.ErrUnknownEvent, env.Event)))
		return
	}

	res, err := d.invoke(ctx, s, env, r)
	if err != nil {
		metrics.EventsHandled.WithLabelValues(env.Event, "error").Inc()
		d.ack(s, env.ID, types.Fail(d.describe(env.Event, s, err)))
		return
	}
	metrics.EventsHandled.WithLabelValues(env.Event, "ok").Inc()

	if !r.quiet || env.ID != "" {
		d.ack(s, env.ID, types.OK(res.data))
	}
	if res.after != nil {
		res.after()
	}
}

func (d *Dispatcher) invoke(ctx context.Context, s *Session, env types.Envelope, r route) (res result, err error) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error().
				Str("conn_id", s.ID()).
				Str("event", env.Event).
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			err = fmt.Errorf("internal error handling %s", env.Event)
		}
	}()

	switch s.State() {
	case StateDisconnected:
		return result{}, types.ErrSessionClosed
	case StateConnected:
		if r.requiresJoin {
			return result{}, types.ErrNotJoined
		}
	}

	if r.limited && !d.limiter.Allow(s.UserID()) {
		return result{}, types.ErrRateLimited
	}

	return r.handler(ctx, s, env)
}

// describe turns an error into the client-facing ack message and logs it.
// Store failures get a generic message; the cause stays in the log.
func (d *Dispatcher) describe(event string, s *Session, err error) string {
	logger := d.log.With().Str("conn_id", s.ID()).Str("event", event).Stringer("user_id", s.UserID()).Logger()

	switch {
	case types.IsPersistence(err):
		logger.Error().Err(err).Msg("store operation failed")
		return persistenceMessage(event)
	case types.IsValidation(err):
		logger.Debug().Err(err).Msg("payload rejected")
		return err.Error()
	case errors.Is(err, types.ErrNotJoined):
		logger.Warn().Msg("event before joinChat")
		return "not joined"
	case errors.Is(err, types.ErrRateLimited):
		logger.Warn().Msg("rate limited")
		return err.Error()
	default:
		logger.Warn().Err(err).Msg("event failed")
		return err.Error()
	}
}

func persistenceMessage(event string) string {
	switch event {
	case types.EventSendMessage:
		return "failed to send message"
	case types.EventLoadChatHistory:
		return "failed to load chat history"
	case types.EventMarkAsRead:
		return "failed to mark messages as read"
	default:
		return "storage unavailable"
	}
}

func (d *Dispatcher) ack(s *Session, id string, ack types.Ack) {
	if err := s.send(types.OutboundEnvelope{Event: types.EventAck, ID: id, Data: ack}); err != nil {
		d.log.Debug().Err(err).Str("conn_id", s.ID()).Msg("ack dropped")
	}
}
