package realtime

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Rooms is the in-memory fan-out index mapping channel ids to the
// connections subscribed to them. Rooms exist implicitly: a room with no
// members simply has no entry, and the whole index is rebuilt from zero
// on restart because clients re-join on reconnect. Socket room
// membership carries no access semantics; those live in the Directory.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[uuid.UUID]struct{} // roomID -> member connections
	byConn  map[uuid.UUID]map[string]struct{} // connID -> joined rooms

	logger *slog.Logger
}

func NewRooms(logger *slog.Logger) *Rooms {
	return &Rooms{
		members: make(map[string]map[uuid.UUID]struct{}),
		byConn:  make(map[uuid.UUID]map[string]struct{}),
		logger:  logger.With(slog.String("component", "room_tracker")),
	}
}

// Join subscribes a connection to a room. Joining twice has no
// additional effect.
func (r *Rooms) Join(connID uuid.UUID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.members[roomID]
	if !ok {
		room = make(map[uuid.UUID]struct{})
		r.members[roomID] = room
	}
	room[connID] = struct{}{}

	joined, ok := r.byConn[connID]
	if !ok {
		joined = make(map[string]struct{})
		r.byConn[connID] = joined
	}
	joined[roomID] = struct{}{}

	r.logger.Debug("connection joined room", slog.String("connID", connID.String()), slog.String("roomID", roomID))
}

// Leave unsubscribes a connection from a room. Leaving a room that was
// never joined has no effect.
func (r *Rooms) Leave(connID uuid.UUID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, roomID)
}

func (r *Rooms) leaveLocked(connID uuid.UUID, roomID string) {
	room, ok := r.members[roomID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.members, roomID)
	}

	if joined, ok := r.byConn[connID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// LeaveAll removes the connection from every room it had joined and
// returns those room ids. Must run on every disconnect so stale
// membership never leaks events to the wrong audience.
func (r *Rooms) LeaveAll(connID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	left := make([]string, 0, len(joined))
	for roomID := range joined {
		left = append(left, roomID)
		r.leaveLocked(connID, roomID)
	}
	r.logger.Debug("connection left all rooms", slog.String("connID", connID.String()), slog.Int("count", len(left)))
	return left
}

// MembersOf returns a snapshot of the room's member connections. An
// unknown room yields an empty slice, not an error.
func (r *Rooms) MembersOf(roomID string) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.members[roomID]
	ids := make([]uuid.UUID, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether a connection is subscribed to a room.
func (r *Rooms) Contains(connID uuid.UUID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.members[roomID][connID]
	return ok
}
