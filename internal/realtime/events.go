package realtime

import "encoding/json"

// Wire event names. These match the socket vocabulary the web client
// speaks: inbound events are client requests, outbound events are
// server notifications.
const (
	// inbound
	EventUserJoin      = "user:join"
	EventChannelJoin   = "channel:join"
	EventChannelLeave  = "channel:leave"
	EventMessageSend   = "message:send"
	EventMessageEdit   = "message:edit"
	EventMessageDelete = "message:delete"

	// outbound
	EventUsersOnline        = "users:online"
	EventUserOnline         = "user:online"
	EventUserOffline        = "user:offline"
	EventUserJoinedChannel  = "user:joined-channel"
	EventUserLeftChannel    = "user:left-channel"
	EventChannelCreated     = "channel:created"
	EventChannelUpdated     = "channel:updated"
	EventChannelMemberAdded = "channel:member-added"
	EventMessageNew         = "message:new"
	EventMessageEdited      = "message:edited"
	EventMessageDeleted     = "message:deleted"
	EventError              = "error"

	// both directions
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
)

// Envelope is the wire frame for every socket message, in both
// directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func encodeEvent(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

// Presence is one online user as reported to clients.
type Presence struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// TypingUser is one active typing indicator in a channel.
type TypingUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}
