package realtime

import (
	"context"
	"time"
)

// Member is a channel member as recorded in persistent storage.
type Member struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Channel is the persisted channel record the dispatcher consults for
// access control and includes in channel events.
type Channel struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsPrivate   bool      `json:"isPrivate"`
	Members     []Member  `json:"members"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// HasMember reports whether the user appears in the channel's persisted
// member list.
func (c *Channel) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// AccessibleTo applies the channel access rule: public channels are open
// to everyone, private channels to members only.
func (c *Channel) AccessibleTo(userID string) bool {
	return !c.IsPrivate || c.HasMember(userID)
}

// Directory is the persistence collaborator the dispatcher consults
// before any access-gated broadcast. An unknown channel id fails with
// ErrNotFound. Persisted channel membership is a different concept from
// socket room membership; only the former carries access semantics.
type Directory interface {
	GetChannel(ctx context.Context, channelID string) (*Channel, error)
}
