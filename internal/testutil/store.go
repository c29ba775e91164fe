package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatrelay/pkg/types"
)

// MemoryStore is an in-memory interfaces.MessageStore that counts calls and can be made to fail.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	messages []*types.Message
	calls    map[string]int
	failErr  error
	clock    func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int64
	return &MemoryStore{
		calls: make(map[string]int),
		clock: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
	}
}

// FailWith makes every later call return err. Pass nil to recover.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Calls returns how many times op was invoked.
func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *MemoryStore) CreateMessage(_ context.Context, senderID, receiverID types.UserID, content string) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["create"]++
	if s.failErr != nil {
		return nil, s.failErr
	}
	s.nextID++
	msg := &types.Message{
		ID:         s.nextID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  s.clock(),
	}
	s.messages = append(s.messages, msg)
	cp := *msg
	return &cp, nil
}

func (s *MemoryStore) ListBetween(_ context.Context, userA, userB types.UserID) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["list"]++
	if s.failErr != nil {
		return nil, s.failErr
	}
	var out []*types.Message
	for _, m := range s.messages {
		if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, ids []int64, readAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["mark_read"]++
	if s.failErr != nil {
		return 0, s.failErr
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	for _, m := range s.messages {
		if want[m.ID] && !m.IsRead {
			at := readAt
			m.IsRead = true
			m.ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountUnread(_ context.Context, userID, fromUserID types.UserID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["count_unread"]++
	if s.failErr != nil {
		return 0, s.failErr
	}
	var n int64
	for _, m := range s.messages {
		if m.ReceiverID == userID && m.SenderID == fromUserID && !m.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) HealthCheck(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failErr
}

func (s *MemoryStore) Close() error { return nil }
