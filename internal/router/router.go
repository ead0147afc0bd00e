// Package router decodes inbound socket frames and routes them to the
// realtime dispatcher.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/teamchat/realtime/internal/metrics"
	"github.com/teamchat/realtime/internal/realtime"
	"github.com/teamchat/realtime/internal/server/middleware"
)

type EventRouter struct {
	logger     *slog.Logger
	dispatcher *realtime.Dispatcher
}

func NewEventRouter(logger *slog.Logger, dispatcher *realtime.Dispatcher) *EventRouter {
	return &EventRouter{
		logger:     logger.With(slog.String("component", "event_router")),
		dispatcher: dispatcher,
	}
}

// HandleMessage is the transport's inbound callback: one socket frame in,
// zero or more dispatched events out. Message payloads travel through to
// the dispatcher verbatim; only the routing fields are inspected here.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var env realtime.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		r.logger.Warn("Failed to unmarshal client message", slog.String("connID", connID.String()), slog.Any("error", err))
		return
	}
	metrics.EventsReceived.WithLabelValues(env.Event).Inc()
	payload := string(env.Payload)

	switch env.Event {
	case realtime.EventUserJoin:
		r.handleUserJoin(ctx, connID, payload)

	case realtime.EventChannelJoin:
		if err := r.dispatcher.JoinRoom(ctx, connID, channelID(payload)); err != nil {
			r.replyError(connID, err)
		}

	case realtime.EventChannelLeave:
		r.dispatcher.LeaveRoom(connID, channelID(payload))

	case realtime.EventMessageSend, realtime.EventMessageEdit, realtime.EventMessageDelete:
		if err := r.dispatcher.RelayMessage(ctx, connID, env.Event, channelID(payload), env.Payload); err != nil {
			r.replyError(connID, err)
		}

	case realtime.EventTypingStart:
		r.dispatcher.TypingStart(connID, channelID(payload))

	case realtime.EventTypingStop:
		r.dispatcher.TypingStop(connID, channelID(payload))

	default:
		r.logger.Warn("Received unknown event", slog.String("event", env.Event), slog.String("connID", connID.String()))
	}
}

// handleUserJoin announces identity. The authenticated subject from the
// upgrade request is authoritative; a client claiming somebody else's
// userId is refused.
func (r *EventRouter) handleUserJoin(ctx context.Context, connID uuid.UUID, payload string) {
	userID := gjson.Get(payload, "userId").String()
	username := gjson.Get(payload, "username").String()

	if meta, ok := middleware.ReqMetadataFrom(ctx); ok && meta.UserID != "" {
		if userID != "" && userID != meta.UserID {
			r.logger.Warn("announced identity does not match session",
				slog.String("connID", connID.String()),
				slog.String("claimed", userID),
				slog.String("session", meta.UserID),
			)
			r.dispatcher.SendError(connID, "identity does not match session")
			return
		}
		userID = meta.UserID
		if username == "" {
			username = meta.Username
		}
	}
	if userID == "" {
		r.dispatcher.SendError(connID, "userId is required")
		return
	}

	if err := r.dispatcher.Announce(connID, userID, username); err != nil {
		r.replyError(connID, err)
	}
}

// channelID extracts the routing channel id: either an object payload
// with a channelId field or, as the original client sends for room
// join/leave, a bare JSON string.
func channelID(payload string) string {
	if id := gjson.Get(payload, "channelId").String(); id != "" {
		return id
	}
	if v := gjson.Parse(payload); v.Type == gjson.String {
		return v.String()
	}
	return ""
}

func (r *EventRouter) replyError(connID uuid.UUID, err error) {
	switch {
	case errors.Is(err, realtime.ErrUnknownConnection):
		// connection already gone, nobody to tell
	case errors.Is(err, realtime.ErrAccessDenied):
		r.dispatcher.SendError(connID, "access denied")
	case errors.Is(err, realtime.ErrNotFound):
		r.dispatcher.SendError(connID, "channel not found")
	default:
		r.logger.Error("event handling failed", slog.Any("error", err))
		r.dispatcher.SendError(connID, "internal error")
	}
}
