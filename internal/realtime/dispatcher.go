package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ChannelEventScope selects the audience of channel:created and
// channel:updated broadcasts.
type ChannelEventScope string

const (
	// ScopeGlobal broadcasts channel events to every connection,
	// matching the original socket server. Private channel names are
	// visible to non-members under this scope.
	ScopeGlobal ChannelEventScope = "global"
	// ScopeEligible restricts channel events to connections of users the
	// access rule admits.
	ScopeEligible ChannelEventScope = "eligible"
)

// Dispatcher receives inbound client events and persistence-confirmed
// domain events, decides the target audience, and pushes outbound
// events. Access-gated operations consult the Directory before any
// fan-out; a failed check broadcasts nothing. Per-connection delivery is
// fire-and-forget, and no registry lock is ever held across a Directory
// call or a send.
type Dispatcher struct {
	registry *Registry
	rooms    *Rooms
	typing   *Typing
	dir      Directory
	scope    ChannelEventScope

	logger *slog.Logger
}

func NewDispatcher(logger *slog.Logger, registry *Registry, rooms *Rooms, typing *Typing, dir Directory, scope ChannelEventScope) *Dispatcher {
	if scope == "" {
		scope = ScopeGlobal
	}
	return &Dispatcher{
		registry: registry,
		rooms:    rooms,
		typing:   typing,
		dir:      dir,
		scope:    scope,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// --- Connection lifecycle ---

// Connect registers a new anonymous connection.
func (d *Dispatcher) Connect(connID uuid.UUID, sender Sender) error {
	return d.registry.Connect(connID, sender)
}

// Announce binds a user identity to a connection, answers it with the
// current presence snapshot, and, if this is the user's first live
// connection, tells everyone else the user came online.
func (d *Dispatcher) Announce(connID uuid.UUID, userID, username string) error {
	first, err := d.registry.AnnounceIdentity(connID, userID, username)
	if err != nil {
		return err
	}

	if sender, ok := d.registry.Sender(connID); ok {
		d.send(sender, EventUsersOnline, d.registry.Snapshot())
	}

	if first {
		d.broadcast(d.registry.AllSendersExceptUser(userID), EventUserOnline,
			Presence{UserID: userID, Username: username})
	}
	return nil
}

// Disconnect tears a connection down: it leaves every room, clears the
// user's typing marks if this was their last connection, and announces
// the user offline exactly once. Unknown connections are a benign no-op.
func (d *Dispatcher) Disconnect(connID uuid.UUID) {
	d.rooms.LeaveAll(connID)

	userID, _, last, err := d.registry.Disconnect(connID)
	if err != nil || userID == "" || !last {
		return
	}

	for _, channelID := range d.typing.StopAllFor(userID) {
		d.emitRoom(channelID, uuid.Nil, EventTypingStop, typingStopPayload{
			ChannelID: channelID,
			UserID:    userID,
		})
	}

	d.broadcast(d.registry.AllSenders(nil), EventUserOffline, offlinePayload{UserID: userID})
}

// --- Room membership ---

// JoinRoom subscribes a connection to a channel's room after the access
// rule passes. Anonymous connections are denied: access cannot be
// evaluated without an identity.
func (d *Dispatcher) JoinRoom(ctx context.Context, connID uuid.UUID, channelID string) error {
	userID, _, ok := d.registry.Identity(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if userID == "" {
		return ErrAccessDenied
	}

	if err := d.checkAccess(ctx, channelID, userID); err != nil {
		return err
	}

	// The access check above does not hold registry state; the connection
	// may have disconnected while we waited. Disconnect is authoritative,
	// so a vanished connection must not regain room membership here.
	if _, stillLive := d.registry.Sender(connID); !stillLive {
		return ErrUnknownConnection
	}
	d.rooms.Join(connID, channelID)
	return nil
}

// LeaveRoom unsubscribes a connection from a channel's room.
func (d *Dispatcher) LeaveRoom(connID uuid.UUID, channelID string) {
	d.rooms.Leave(connID, channelID)
}

// --- Messages ---

// RelayMessage fans a persisted message event out to the channel's room.
// The payload travels verbatim; only the routing fields were inspected
// by the caller. The sender must pass the channel access rule or nothing
// is emitted at all.
func (d *Dispatcher) RelayMessage(ctx context.Context, connID uuid.UUID, inboundEvent, channelID string, payload json.RawMessage) error {
	outbound, ok := messageEventFor(inboundEvent)
	if !ok {
		return fmt.Errorf("not a message event: %q", inboundEvent)
	}

	userID, _, found := d.registry.Identity(connID)
	if !found {
		return ErrUnknownConnection
	}
	if userID == "" {
		return ErrAccessDenied
	}
	if err := d.checkAccess(ctx, channelID, userID); err != nil {
		return err
	}

	// Sending a message ends the sender's typing indicator.
	if inboundEvent == EventMessageSend && d.typing.Stop(userID, channelID) {
		d.emitRoom(channelID, connID, EventTypingStop, typingStopPayload{
			ChannelID: channelID,
			UserID:    userID,
		})
	}

	d.emitRaw(d.roomSenders(channelID, uuid.Nil), outbound, payload)
	return nil
}

func messageEventFor(inbound string) (string, bool) {
	switch inbound {
	case EventMessageSend:
		return EventMessageNew, true
	case EventMessageEdit:
		return EventMessageEdited, true
	case EventMessageDelete:
		return EventMessageDeleted, true
	}
	return "", false
}

// --- Typing indicators ---

// TypingStart records and relays a typing indicator to the channel's
// room, excluding the typist's own connection. Signals from anonymous
// connections are dropped.
func (d *Dispatcher) TypingStart(connID uuid.UUID, channelID string) {
	userID, username, ok := d.registry.Identity(connID)
	if !ok || userID == "" {
		return
	}
	d.typing.Start(userID, username, channelID)
	d.emitRoom(channelID, connID, EventTypingStart, typingStartPayload{
		ChannelID: channelID,
		UserID:    userID,
		Username:  username,
	})
}

// TypingStop clears a typing indicator and relays the stop signal.
func (d *Dispatcher) TypingStop(connID uuid.UUID, channelID string) {
	userID, _, ok := d.registry.Identity(connID)
	if !ok || userID == "" {
		return
	}
	if !d.typing.Stop(userID, channelID) {
		return
	}
	d.emitRoom(channelID, connID, EventTypingStop, typingStopPayload{
		ChannelID: channelID,
		UserID:    userID,
	})
}

// TypingUsersIn exposes the current typing set of a channel.
func (d *Dispatcher) TypingUsersIn(channelID string) []TypingUser {
	return d.typing.UsersIn(channelID)
}

// RunTypingSweeper expires typing marks whose clients went silent
// without a typing:stop. Blocks until ctx is done.
func (d *Dispatcher) RunTypingSweeper(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, mark := range d.typing.Expire(ttl) {
				d.emitRoom(mark.ChannelID, uuid.Nil, EventTypingStop, typingStopPayload{
					ChannelID: mark.ChannelID,
					UserID:    mark.UserID,
				})
			}
		}
	}
}

// --- Channel domain events (persistence-confirmed, called by the HTTP layer) ---

// ChannelCreated announces a newly persisted channel.
func (d *Dispatcher) ChannelCreated(ch *Channel) {
	d.broadcast(d.scopeAudience(ch), EventChannelCreated, channelPayload{Channel: ch})
}

// ChannelUpdated announces a changed channel record (membership,
// metadata) so clients refresh their channel lists.
func (d *Dispatcher) ChannelUpdated(ch *Channel) {
	d.broadcast(d.scopeAudience(ch), EventChannelUpdated, channelPayload{Channel: ch})
}

// MembershipChanged announces an explicit, persisted join or leave: the
// updated channel goes to the scope audience, and a targeted notice goes
// to the room so present members see who arrived or left.
func (d *Dispatcher) MembershipChanged(ch *Channel, userID, username string, joined bool) {
	d.ChannelUpdated(ch)

	notice := EventUserLeftChannel
	if joined {
		notice = EventUserJoinedChannel
	}
	d.emitRoom(ch.ID, uuid.Nil, notice, membershipPayload{
		UserID:    userID,
		ChannelID: ch.ID,
		Username:  username,
	})
}

// MemberAdded announces a user auto-added to a public channel they
// touched, so every client's membership list refreshes.
func (d *Dispatcher) MemberAdded(ch *Channel, userID, username string) {
	d.broadcast(d.registry.AllSenders(nil), EventChannelMemberAdded, memberAddedPayload{
		ChannelID: ch.ID,
		UserID:    userID,
		Username:  username,
		Channel:   ch,
	})
}

// SendError delivers a local error notice to one connection. Nothing is
// broadcast.
func (d *Dispatcher) SendError(connID uuid.UUID, message string) {
	if sender, ok := d.registry.Sender(connID); ok {
		d.send(sender, EventError, errorPayload{Error: message})
	}
}

// --- internals ---

// checkAccess suspends on the Directory; no tracker lock is held here.
func (d *Dispatcher) checkAccess(ctx context.Context, channelID, userID string) error {
	ch, err := d.dir.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if !ch.AccessibleTo(userID) {
		return ErrAccessDenied
	}
	return nil
}

func (d *Dispatcher) scopeAudience(ch *Channel) []Sender {
	if d.scope == ScopeEligible {
		return d.registry.AllSenders(func(userID string) bool {
			return userID != "" && ch.AccessibleTo(userID)
		})
	}
	return d.registry.AllSenders(nil)
}

func (d *Dispatcher) roomSenders(channelID string, except uuid.UUID) []Sender {
	return d.registry.Senders(d.rooms.MembersOf(channelID), except)
}

func (d *Dispatcher) emitRoom(channelID string, except uuid.UUID, event string, payload any) {
	d.broadcast(d.roomSenders(channelID, except), event, payload)
}

func (d *Dispatcher) broadcast(senders []Sender, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to marshal event payload", slog.String("event", event), slog.Any("error", err))
		return
	}
	d.emitRaw(senders, event, raw)
}

func (d *Dispatcher) emitRaw(senders []Sender, event string, payload json.RawMessage) {
	frame, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		d.logger.Error("failed to marshal event frame", slog.String("event", event), slog.Any("error", err))
		return
	}
	for _, s := range senders {
		s.Send(frame)
	}
	d.logger.Debug("event dispatched", slog.String("event", event), slog.Int("recipients", len(senders)))
}

func (d *Dispatcher) send(sender Sender, event string, payload any) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		d.logger.Error("failed to marshal event", slog.String("event", event), slog.Any("error", err))
		return
	}
	sender.Send(frame)
}

// Outbound payload shapes.

type offlinePayload struct {
	UserID string `json:"userId"`
}

type typingStartPayload struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
}

type typingStopPayload struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

type channelPayload struct {
	Channel *Channel `json:"channel"`
}

type membershipPayload struct {
	UserID    string `json:"userId"`
	ChannelID string `json:"channelId"`
	Username  string `json:"username"`
}

type memberAddedPayload struct {
	ChannelID string   `json:"channelId"`
	UserID    string   `json:"userId"`
	Username  string   `json:"username"`
	Channel   *Channel `json:"channel"`
}

type errorPayload struct {
	Error string `json:"error"`
}
