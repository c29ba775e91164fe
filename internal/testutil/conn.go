// Package testutil holds fakes and clients shared by package tests.
package testutil

import (
	"encoding/json"
	"errors"
	"sync"

	"chatrelay/pkg/types"
)

// RecordingConnection is an in-memory interfaces.Connection that keeps every envelope sent to it.
type RecordingConnection struct {
	id string

	mu      sync.Mutex
	frames  []types.OutboundEnvelope
	closed  bool
	sendErr error
}

// NewRecordingConnection creates a connection with the given id.
func NewRecordingConnection(id string) *RecordingConnection {
	return &RecordingConnection{id: id}
}

func (c *RecordingConnection) ID() string { return c.id }

func (c *RecordingConnection) Send(env types.OutboundEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, env)
	return nil
}

func (c *RecordingConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// FailSends makes every later Send return err.
func (c *RecordingConnection) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Frames returns a copy of everything sent so far.
func (c *RecordingConnection) Frames() []types.OutboundEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.OutboundEnvelope, len(c.frames))
	copy(out, c.frames)
	return out
}

// Events returns the frames with the given event name.
func (c *RecordingConnection) Events(event string) []types.OutboundEnvelope {
	var out []types.OutboundEnvelope
	for _, f := range c.Frames() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// Count returns how many frames with the given event name were sent.
func (c *RecordingConnection) Count(event string) int {
	return len(c.Events(event))
}

// Acks returns the acknowledgments sent so far, in order.
func (c *RecordingConnection) Acks() []types.Ack {
	var acks []types.Ack
	for _, f := range c.Events(types.EventAck) {
		if ack, ok := f.Data.(types.Ack); ok {
			acks = append(acks, ack)
		}
	}
	return acks
}

// LastAck returns the most recent acknowledgment.
func (c *RecordingConnection) LastAck() (types.Ack, bool) {
	acks := c.Acks()
	if len(acks) == 0 {
		return types.Ack{}, false
	}
	return acks[len(acks)-1], true
}

// Reset drops recorded frames.
func (c *RecordingConnection) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// DecodeData round-trips an envelope payload through JSON into dst, the way a client sees it.
func DecodeData(env types.OutboundEnvelope, dst any) error {
	raw, err := json.Marshal(env.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
