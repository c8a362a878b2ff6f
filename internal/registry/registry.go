// Package registry owns all ephemeral connection state: which users hold
// which live connections, and which users are present in which rooms for
// broadcast purposes. The durable participant list remains authoritative;
// this map only routes envelopes.
package registry

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/profullstack/qryptchat-web-sub004/internal/metrics"
)

var ErrStopped = errors.New("registry is stopped")

// Registry is the single owner of connection and room-membership maps. All
// access goes through its methods; a registry-wide mutex serializes
// mutation. Envelope enqueues are non-blocking channel offers, so holding
// the read lock during a broadcast never waits on a slow consumer — actual
// socket writes happen in each client's write pump.
type Registry struct {
	mu      sync.RWMutex
	conns   map[uuid.UUID]*Client
	users   map[uuid.UUID]map[uuid.UUID]*Client  // userID -> connID -> client
	rooms   map[uuid.UUID]map[uuid.UUID]struct{} // roomID -> set of userIDs
	stopped bool

	logger zerolog.Logger
}

// NewRegistry creates a stopped registry; call Start before use.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		conns:   make(map[uuid.UUID]*Client),
		users:   make(map[uuid.UUID]map[uuid.UUID]*Client),
		rooms:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
		stopped: true,
		logger:  logger,
	}
}

// Start makes the registry accept registrations.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = false
}

// Stop closes every live connection and clears all state. Registrations
// after Stop are rejected.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.conns {
		c.close()
	}
	r.conns = make(map[uuid.UUID]*Client)
	r.users = make(map[uuid.UUID]map[uuid.UUID]*Client)
	r.rooms = make(map[uuid.UUID]map[uuid.UUID]struct{})
	r.stopped = true
}

// Register adds a connection and emits a synthetic CONNECTED envelope to it.
// Registration never rejects a user for having other live connections.
func (r *Registry) Register(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrStopped
	}

	r.conns[c.ID] = c
	if _, ok := r.users[c.UserID]; !ok {
		r.users[c.UserID] = make(map[uuid.UUID]*Client)
	}
	r.users[c.UserID][c.ID] = c

	metrics.OpenConnections.Inc()

	data, err := NewEnvelope(EventConnected, ConnectedPayload{
		ConnectionID: c.ID,
		UserID:       c.UserID,
	}).Encode()
	if err != nil {
		return err
	}
	c.enqueue(data)

	r.logger.Debug().
		Str("connection_id", c.ID.String()).
		Str("user_id", c.UserID.String()).
		Msg("connection registered")

	return nil
}

// Unregister removes a connection. When it was the user's last connection,
// the user drops out of every room map — implicitly absent for broadcasts
// while retaining durable membership.
func (r *Registry) Unregister(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)
	metrics.OpenConnections.Dec()

	userConns := r.users[c.UserID]
	delete(userConns, connID)
	if len(userConns) == 0 {
		delete(r.users, c.UserID)
		for roomID, members := range r.rooms {
			delete(members, c.UserID)
			if len(members) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}

	c.close()

	r.logger.Debug().
		Str("connection_id", connID.String()).
		Str("user_id", c.UserID.String()).
		Msg("connection unregistered")
}

// JoinRoom marks the user present in a room for broadcast routing. Idempotent.
func (r *Registry) JoinRoom(userID, roomID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomID]; !ok {
		r.rooms[roomID] = make(map[uuid.UUID]struct{})
	}
	r.rooms[roomID][userID] = struct{}{}
}

// LeaveRoom removes the user from a room's broadcast routing. Idempotent.
func (r *Registry) LeaveRoom(userID, roomID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// BroadcastToRoom delivers a typed envelope to every connection of every
// registered room member, best-effort and at-most-once per connection.
// Connections of exclude (when non-nil) are skipped for echo suppression.
// A consumer whose buffer is full is dropped after the sweep; one bad
// connection never aborts the fan-out. Returns the number of connections
// the envelope was enqueued to.
func (r *Registry) BroadcastToRoom(roomID uuid.UUID, t EventType, payload interface{}, exclude *uuid.UUID) (int, error) {
	data, err := NewEnvelope(t, payload).Encode()
	if err != nil {
		return 0, err
	}

	var slow []*Client
	delivered := 0

	r.mu.RLock()
	for userID := range r.rooms[roomID] {
		if exclude != nil && userID == *exclude {
			continue
		}
		for _, c := range r.users[userID] {
			if c.enqueue(data) {
				delivered++
			} else {
				slow = append(slow, c)
			}
		}
	}
	r.mu.RUnlock()

	for _, c := range slow {
		r.logger.Warn().
			Str("connection_id", c.ID.String()).
			Str("user_id", c.UserID.String()).
			Str("event", string(t)).
			Msg("dropping slow consumer")
		metrics.BroadcastsDropped.Inc()
		r.Unregister(c.ID)
	}

	metrics.BroadcastsDelivered.Add(float64(delivered))
	return delivered, nil
}

// ConnectionCount returns the number of live connections for a user.
func (r *Registry) ConnectionCount(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// RoomMembers returns the users currently registered in a room.
func (r *Registry) RoomMembers(roomID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]uuid.UUID, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		members = append(members, id)
	}
	return members
}
