package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatrelay/internal/dispatcher"
)

// Options tune the transport. Zero values fall back to defaults.
type Options struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 128 * 1024
	}
	return o
}

// Clients connect from any origin; there is no cookie-based auth to protect.
var upgrader = websocket.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades HTTP requests and pumps frames into the dispatcher.
type Handler struct {
	dispatcher *dispatcher.Dispatcher
	opts       Options
	log        zerolog.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(d *dispatcher.Dispatcher, opts Options, log zerolog.Logger) *Handler {
	return &Handler{
		dispatcher: d,
		opts:       opts.withDefaults(),
		log:        log.With().Str("component", "websocket").Logger(),
	}
}

// ServeHTTP upgrades the request. Identity is established later by joinChat.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	wsConn := NewConnection(conn, h.opts.BufferSize, h.opts.WriteTimeout)
	session, err := h.dispatcher.Connect(wsConn)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to register connection")
		_ = wsConn.Close()
		return
	}

	h.log.Info().Str("conn_id", wsConn.ID()).Str("remote", r.RemoteAddr).Msg("client connected")
	go h.handleConnection(wsConn, session)
}

// handleConnection runs the read pump and heartbeat until the socket fails or closes.
// Frames from one connection are dispatched in order on this goroutine.
func (h *Handler) handleConnection(conn *Connection, session *dispatcher.Session) {
	defer func() {
		h.dispatcher.Disconnect(session)
		_ = conn.Close()
		h.log.Info().Str("conn_id", conn.ID()).Msg("client disconnected")
	}()

	conn.conn.SetReadLimit(h.opts.MaxMessageSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait)); err != nil {
		h.log.Warn().Err(err).Str("conn_id", conn.ID()).Msg("failed to set read deadline")
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	go h.heartbeat(conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("conn_id", conn.ID()).Msg("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatcher.Dispatch(ctx, session, data)
	}
}

func (h *Handler) heartbeat(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}
