package hub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"chatrelay/internal/metrics"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// DefaultQueueSize is the delivery buffer used when the configured size is not positive.
const DefaultQueueSize = 1000

// Delivery is one envelope addressed to a resolved set of connections.
type Delivery struct {
	Room     string
	Targets  []interfaces.Connection
	Envelope types.OutboundEnvelope
}

// Hub serializes fan-out writes on a single goroutine.
// Publishing never blocks; delivery is best effort and unobserved by the publisher.
type Hub struct {
	deliveries chan Delivery
	log        zerolog.Logger

	mu       sync.Mutex
	running  bool
	shutdown chan struct{}
	done     chan struct{}
}

// NewHub creates a hub with a delivery buffer of queueSize.
func NewHub(queueSize int, log zerolog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		deliveries: make(chan Delivery, queueSize),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	h.log.Info().Int("queue_size", cap(h.deliveries)).Msg("starting fan-out hub")
	go h.run(ctx, h.shutdown, h.done)
	return nil
}

// Stop shuts the hub down and waits for the delivery loop to exit.
// Deliveries still queued are discarded.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	<-done
	h.log.Info().Msg("fan-out hub stopped")
	return nil
}

// Running reports whether the delivery loop is active.
func (h *Hub) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Publish queues a delivery. It returns ErrQueueFull instead of blocking.
func (h *Hub) Publish(d Delivery) error {
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if !running {
		return ErrHubNotRunning
	}
	if len(d.Targets) == 0 {
		return nil
	}

	select {
	case h.deliveries <- d:
		return nil
	default:
		metrics.Deliveries.WithLabelValues("dropped").Add(float64(len(d.Targets)))
		h.log.Warn().Str("event", d.Envelope.Event).Str("room", d.Room).Msg("delivery queue full, dropping fan-out")
		return ErrQueueFull
	}
}

func (h *Hub) run(ctx context.Context, shutdown, done chan struct{}) {
	defer close(done)

	for {
		select {
		case d := <-h.deliveries:
			h.deliver(d)
		case <-shutdown:
			return
		case <-ctx.Done():
			h.log.Info().Msg("hub context cancelled")
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

// deliver writes to each target independently; one failing connection does not affect the others.
func (h *Hub) deliver(d Delivery) {
	for _, conn := range d.Targets {
		if err := conn.Send(d.Envelope); err != nil {
			metrics.Deliveries.WithLabelValues("dropped").Inc()
			h.log.Debug().Err(err).Str("conn_id", conn.ID()).Str("event", d.Envelope.Event).Msg("fan-out write dropped")
			continue
		}
		metrics.Deliveries.WithLabelValues("sent").Inc()
	}
}
