package realtime

import (
	"sync"
	"time"
)

type typingMark struct {
	username string
	lastSeen time.Time
}

// Typing tracks transient "user X is typing in channel Y" marks, keyed
// by (userID, channelID). Marks are purely client-reported; the
// dispatcher may additionally expire marks that stopped refreshing (see
// Expire) so a crashed client cannot leave a stale indicator.
type Typing struct {
	mu        sync.Mutex
	byChannel map[string]map[string]typingMark // channelID -> userID -> mark
	now       func() time.Time
}

func NewTyping() *Typing {
	return &Typing{
		byChannel: make(map[string]map[string]typingMark),
		now:       time.Now,
	}
}

// Start records a typing mark. Starting twice refreshes the mark but
// never duplicates it.
func (t *Typing) Start(userID, username, channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	marks, ok := t.byChannel[channelID]
	if !ok {
		marks = make(map[string]typingMark)
		t.byChannel[channelID] = marks
	}
	marks[userID] = typingMark{username: username, lastSeen: t.now()}
}

// Stop removes a mark and reports whether one existed. Stopping an
// absent mark is a no-op.
func (t *Typing) Stop(userID, channelID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	marks, ok := t.byChannel[channelID]
	if !ok {
		return false
	}
	if _, present := marks[userID]; !present {
		return false
	}
	delete(marks, userID)
	if len(marks) == 0 {
		delete(t.byChannel, channelID)
	}
	return true
}

// UsersIn returns the users currently typing in a channel.
func (t *Typing) UsersIn(channelID string) []TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()

	marks := t.byChannel[channelID]
	users := make([]TypingUser, 0, len(marks))
	for userID, mark := range marks {
		users = append(users, TypingUser{UserID: userID, Username: mark.username})
	}
	return users
}

// StopAllFor removes every mark a user holds and returns the affected
// channel ids. Called when the user's last connection closes.
func (t *Typing) StopAllFor(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var channels []string
	for channelID, marks := range t.byChannel {
		if _, present := marks[userID]; !present {
			continue
		}
		delete(marks, userID)
		if len(marks) == 0 {
			delete(t.byChannel, channelID)
		}
		channels = append(channels, channelID)
	}
	return channels
}

// ExpiredMark identifies a mark removed by Expire.
type ExpiredMark struct {
	UserID    string
	ChannelID string
}

// Expire removes marks older than ttl and returns them so the caller
// can broadcast the corresponding typing:stop events.
func (t *Typing) Expire(ttl time.Duration) []ExpiredMark {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-ttl)
	var expired []ExpiredMark
	for channelID, marks := range t.byChannel {
		for userID, mark := range marks {
			if mark.lastSeen.Before(cutoff) {
				delete(marks, userID)
				expired = append(expired, ExpiredMark{UserID: userID, ChannelID: channelID})
			}
		}
		if len(marks) == 0 {
			delete(t.byChannel, channelID)
		}
	}
	return expired
}
