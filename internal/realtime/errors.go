package realtime

import "errors"

var (
	// ErrUnknownConnection means the referenced connection is not in the
	// registry. Callers treat this as "already disconnected" and no-op.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrAccessDenied means the channel access rule failed. Nothing is
	// broadcast; the error is surfaced to the requester only.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound means the referenced channel does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIdentityBound means a connection tried to announce a different
	// user than the one it is already bound to. A connection's identity
	// is immutable for its lifetime.
	ErrIdentityBound = errors.New("connection already bound to another user")
)
