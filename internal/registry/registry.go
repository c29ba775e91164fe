package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Transition is an online/offline edge for one user.
type Transition struct {
	UserID types.UserID
	Online bool
}

// TransitionHook observes presence transitions. It runs while the registry lock is held,
// with every connection live at that moment, so it must not call back into the Registry
// and must not block.
type TransitionHook func(t Transition, everyone []interfaces.Connection)

// JoinResult describes the effect of a Join.
type JoinResult struct {
	WentOnline bool
	// Snapshot is the set of online users after the join was applied.
	Snapshot []types.UserID
}

// DisconnectResult describes the effect of a Disconnect.
type DisconnectResult struct {
	UserID      types.UserID
	WasJoined   bool
	WentOffline bool
}

type entry struct {
	conn   interfaces.Connection
	userID types.UserID // zero until joined
}

// Registry maps user identities to their live connections.
// One lock guards both maps, and presence transitions are decided inside it.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*entry                    // connectionID -> entry
	presence    map[types.UserID]map[string]struct{} // userID -> set of connectionIDs
	hook        TransitionHook
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*entry),
		presence:    make(map[types.UserID]map[string]struct{}),
	}
}

// OnTransition installs the transition hook. Call it once during wiring, before traffic.
func (r *Registry) OnTransition(hook TransitionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
}

// Connect registers a new connection that is not yet bound to a user.
func (r *Registry) Connect(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; !exists {
		r.connections[conn.ID()] = &entry{conn: conn}
	}
	return nil
}

// Join binds a connection to a user. Joining again with the same user is a no-op.
// A connection that was never seen by Connect is registered on the fly.
func (r *Registry) Join(conn interfaces.Connection, userID types.UserID) (JoinResult, error) {
	if conn == nil {
		return JoinResult{}, ErrNilConnection
	}
	if userID <= 0 {
		return JoinResult{}, &types.ValidationError{Field: "userId", Reason: "must be greater than 0"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.connections[conn.ID()]
	if !exists {
		e = &entry{conn: conn}
		r.connections[conn.ID()] = e
	}

	if e.userID != 0 && e.userID != userID {
		return JoinResult{}, fmt.Errorf("%w: bound to user %s", types.ErrAlreadyJoined, e.userID)
	}

	set, online := r.presence[userID]
	if !online {
		set = make(map[string]struct{})
		r.presence[userID] = set
	}
	set[conn.ID()] = struct{}{}
	e.userID = userID

	result := JoinResult{WentOnline: !online}
	if result.WentOnline && r.hook != nil {
		r.hook(Transition{UserID: userID, Online: true}, r.allLocked())
	}
	result.Snapshot = r.onlineLocked()
	return result, nil
}

// Disconnect removes a connection. Unknown ids are ignored.
func (r *Registry) Disconnect(connID string) DisconnectResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.connections[connID]
	if !exists {
		return DisconnectResult{}
	}
	delete(r.connections, connID)

	if e.userID == 0 {
		return DisconnectResult{}
	}

	result := DisconnectResult{UserID: e.userID, WasJoined: true}
	set, ok := r.presence[e.userID]
	if !ok {
		panic(fmt.Sprintf("registry: joined connection %s has no presence set for user %s", connID, e.userID))
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.presence, e.userID)
		result.WentOffline = true
		if r.hook != nil {
			r.hook(Transition{UserID: e.userID, Online: false}, r.allLocked())
		}
	}
	return result
}

// IsOnline reports whether the user has at least one joined connection.
func (r *Registry) IsOnline(userID types.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, online := r.presence[userID]
	return online
}

// OnlineUsers returns a sorted snapshot of all online users.
func (r *Registry) OnlineUsers() []types.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineLocked()
}

// ConnectionsFor returns the live connections joined as userID.
func (r *Registry) ConnectionsFor(userID types.UserID) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.presence[userID]
	conns := make([]interfaces.Connection, 0, len(set))
	for connID := range set {
		conns = append(conns, r.connections[connID].conn)
	}
	return conns
}

// AllConnections returns every live connection, joined or not.
func (r *Registry) AllConnections() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allLocked()
}

// UserOf returns the user a connection is joined as.
func (r *Registry) UserOf(connID string) (types.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.connections[connID]
	if !exists || e.userID == 0 {
		return 0, false
	}
	return e.userID, true
}

// GetStats returns registry statistics for monitoring.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := 0
	for _, e := range r.connections {
		if e.userID != 0 {
			joined++
		}
	}
	return map[string]int{
		"total_connections":  len(r.connections),
		"joined_connections": joined,
		"online_users":       len(r.presence),
	}
}

// Check verifies the registry's structural invariants and returns the first violation.
func (r *Registry) Check() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner := make(map[string]types.UserID)
	for userID, set := range r.presence {
		if len(set) == 0 {
			return fmt.Errorf("user %s has an empty presence set", userID)
		}
		for connID := range set {
			if prev, dup := owner[connID]; dup {
				return fmt.Errorf("connection %s is in the sets of users %s and %s", connID, prev, userID)
			}
			owner[connID] = userID
			e, ok := r.connections[connID]
			if !ok {
				return fmt.Errorf("connection %s in presence set of %s is not registered", connID, userID)
			}
			if e.userID != userID {
				return fmt.Errorf("connection %s is bound to %s but listed under %s", connID, e.userID, userID)
			}
		}
	}
	for connID, e := range r.connections {
		if e.userID != 0 && owner[connID] != e.userID {
			return fmt.Errorf("joined connection %s missing from presence set of %s", connID, e.userID)
		}
	}
	return nil
}

func (r *Registry) onlineLocked() []types.UserID {
	ids := lo.Keys(r.presence)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) allLocked() []interfaces.Connection {
	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, e := range r.connections {
		conns = append(conns, e.conn)
	}
	return conns
}
