package realtime

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Sender is the outbound half of a client connection. Implementations
// must not block on the peer.
type Sender interface {
	Send(msg []byte)
}

// conn is one live client socket and the identity bound to it.
type conn struct {
	id       uuid.UUID
	sender   Sender
	userID   string
	username string
}

// Registry tracks live connections and the user identity bound to each.
// A user's online status is derived from the user index here; there is
// no separate online-users map to drift out of sync.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*conn
	users map[string]map[uuid.UUID]*conn // userID -> that user's live connections

	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]*conn),
		users:  make(map[string]map[uuid.UUID]*conn),
		logger: logger.With(slog.String("component", "connection_registry")),
	}
}

// Connect records a new connection with no bound identity.
func (r *Registry) Connect(connID uuid.UUID, sender Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		return errors.New("connection is already registered")
	}
	r.conns[connID] = &conn{id: connID, sender: sender}
	r.logger.Debug("connection registered", slog.String("connID", connID.String()))
	return nil
}

// AnnounceIdentity binds a user to a connection. It reports whether this
// is the user's first live connection, so the caller knows whether to
// announce the user as newly online. Re-announcing the same user is a
// no-op; announcing a different user on a bound connection is rejected.
func (r *Registry) AnnounceIdentity(connID uuid.UUID, userID, username string) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return false, ErrUnknownConnection
	}
	if c.userID != "" && c.userID != userID {
		return false, ErrIdentityBound
	}
	if c.userID == userID {
		c.username = username
		return false, nil
	}

	c.userID = userID
	c.username = username

	userConns, exists := r.users[userID]
	if !exists {
		userConns = make(map[uuid.UUID]*conn)
		r.users[userID] = userConns
	}
	first = len(userConns) == 0
	userConns[connID] = c

	r.logger.Debug("identity announced",
		slog.String("connID", connID.String()),
		slog.String("userID", userID),
		slog.Bool("first", first),
	)
	return first, nil
}

// Disconnect removes a connection and reports the identity it was bound
// to plus whether that user now has zero remaining connections.
func (r *Registry) Disconnect(connID uuid.UUID) (userID, username string, last bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return "", "", false, ErrUnknownConnection
	}
	delete(r.conns, connID)

	if c.userID == "" {
		return "", "", false, nil
	}
	userConns := r.users[c.userID]
	delete(userConns, connID)
	if len(userConns) == 0 {
		delete(r.users, c.userID)
		last = true
	}

	r.logger.Debug("connection deregistered",
		slog.String("connID", connID.String()),
		slog.String("userID", c.userID),
		slog.Bool("last", last),
	)
	return c.userID, c.username, last, nil
}

// Identity returns the user bound to a connection, if any.
func (r *Registry) Identity(connID uuid.UUID) (userID, username string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, found := r.conns[connID]
	if !found {
		return "", "", false
	}
	return c.userID, c.username, true
}

// ConnectionsForUser returns the ids of all live connections bound to a
// user. An offline user yields an empty slice.
func (r *Registry) ConnectionsForUser(userID string) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns := r.users[userID]
	ids := make([]uuid.UUID, 0, len(userConns))
	for id := range userConns {
		ids = append(ids, id)
	}
	return ids
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// Snapshot lists the currently online users, one entry per user
// regardless of how many connections they hold.
func (r *Registry) Snapshot() []Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	online := make([]Presence, 0, len(r.users))
	for userID, userConns := range r.users {
		for _, c := range userConns {
			online = append(online, Presence{UserID: userID, Username: c.username})
			break // any connection is representative
		}
	}
	return online
}

// Sender returns the outbound side of one connection.
func (r *Registry) Sender(connID uuid.UUID) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return c.sender, true
}

// Senders resolves a set of connection ids to their outbound sides,
// skipping exclude and any id that disconnected since the set was
// computed.
func (r *Registry) Senders(connIDs []uuid.UUID, exclude uuid.UUID) []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	senders := make([]Sender, 0, len(connIDs))
	for _, id := range connIDs {
		if id == exclude {
			continue
		}
		if c, ok := r.conns[id]; ok {
			senders = append(senders, c.sender)
		}
	}
	return senders
}

// AllSenders returns every live connection's outbound side. When filter
// is non-nil, only connections whose bound user passes the filter are
// included; anonymous connections are always included under a nil
// filter and excluded otherwise.
func (r *Registry) AllSenders(filter func(userID string) bool) []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	senders := make([]Sender, 0, len(r.conns))
	for _, c := range r.conns {
		if filter != nil && !filter(c.userID) {
			continue
		}
		senders = append(senders, c.sender)
	}
	return senders
}

// AllSendersExceptUser returns every live connection except those bound
// to the given user.
func (r *Registry) AllSendersExceptUser(userID string) []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	senders := make([]Sender, 0, len(r.conns))
	for _, c := range r.conns {
		if c.userID == userID {
			continue
		}
		senders = append(senders, c.sender)
	}
	return senders
}
