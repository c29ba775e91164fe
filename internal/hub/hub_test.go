package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/testutil"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

func startHub(t *testing.T, size int) *Hub {
	t.Helper()
	h := NewHub(size, zerolog.Nop())
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func TestHub_StartStop(t *testing.T) {
	h := NewHub(10, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, h.Start(ctx))
	assert.ErrorIs(t, h.Start(ctx), ErrHubAlreadyRunning)
	assert.True(t, h.Running())

	require.NoError(t, h.Stop())
	assert.ErrorIs(t, h.Stop(), ErrHubNotRunning)
	assert.False(t, h.Running())

	// A stopped hub can be started again.
	require.NoError(t, h.Start(ctx))
	require.NoError(t, h.Stop())
}

func TestHub_DefaultQueueSize(t *testing.T) {
	h := NewHub(0, zerolog.Nop())
	assert.Equal(t, DefaultQueueSize, cap(h.deliveries))
}

func TestHub_PublishWhenStopped(t *testing.T) {
	h := NewHub(10, zerolog.Nop())
	err := h.Publish(Delivery{
		Targets:  []interfaces.Connection{testutil.NewRecordingConnection("c1")},
		Envelope: types.OutboundEnvelope{Event: "x"},
	})
	assert.ErrorIs(t, err, ErrHubNotRunning)
}

func TestHub_DeliversToEveryTarget(t *testing.T) {
	h := startHub(t, 10)
	a := testutil.NewRecordingConnection("a")
	b := testutil.NewRecordingConnection("b")

	require.NoError(t, h.Publish(Delivery{
		Room:     "user_1",
		Targets:  []interfaces.Connection{a, b},
		Envelope: types.OutboundEnvelope{Event: types.EventUserTyping, Data: types.TypingEvent{UserID: 1, IsTyping: true}},
	}))

	assert.Eventually(t, func() bool {
		return a.Count(types.EventUserTyping) == 1 && b.Count(types.EventUserTyping) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHub_FailingTargetDoesNotBlockOthers(t *testing.T) {
	h := startHub(t, 10)
	broken := testutil.NewRecordingConnection("broken")
	broken.FailSends(errors.New("write buffer full"))
	healthy := testutil.NewRecordingConnection("healthy")

	require.NoError(t, h.Publish(Delivery{
		Targets:  []interfaces.Connection{broken, healthy},
		Envelope: types.OutboundEnvelope{Event: types.EventNewMessage},
	}))

	assert.Eventually(t, func() bool {
		return healthy.Count(types.EventNewMessage) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, broken.Count(types.EventNewMessage))
}

func TestHub_EmptyTargetsIsNoop(t *testing.T) {
	h := startHub(t, 1)
	assert.NoError(t, h.Publish(Delivery{Envelope: types.OutboundEnvelope{Event: "x"}}))
	assert.Empty(t, h.deliveries)
}

func TestHub_QueueFull(t *testing.T) {
	// Not started loop: fill the buffer directly so nothing drains it.
	h := NewHub(1, zerolog.Nop())
	h.running = true
	conn := testutil.NewRecordingConnection("c1")
	d := Delivery{Targets: []interfaces.Connection{conn}, Envelope: types.OutboundEnvelope{Event: "x"}}

	require.NoError(t, h.Publish(d))
	assert.ErrorIs(t, h.Publish(d), ErrQueueFull)
}

func TestHub_ContextCancelStopsLoop(t *testing.T) {
	h := NewHub(10, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.Start(ctx))

	cancel()

	assert.Eventually(t, func() bool { return !h.Running() }, time.Second, 5*time.Millisecond)
}

func TestHub_ConcurrentStartStop(t *testing.T) {
	h := NewHub(10, zerolog.Nop())
	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_ = h.Start(context.Background())
			_ = h.Stop()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	_ = h.Stop()
}
