// Package store is the persistence layer: users, channels, channel
// membership, and messages in SQLite. It also implements the realtime
// dispatcher's Directory, which consults persisted channel membership
// for access control.
package store

import (
	"database/sql"
	"errors"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teamchat/realtime/internal/realtime"
)

var (
	// ErrNotFound aliases the dispatcher's sentinel so access checks and
	// HTTP handlers can test one error.
	ErrNotFound = realtime.ErrNotFound

	ErrDuplicate = errors.New("record already exists")
)

// DeletedMessageContent replaces the body of soft-deleted messages.
const DeletedMessageContent = "[Message deleted]"

type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	HashedPassword []byte    `json:"-"`
}

type Message struct {
	ID        string     `json:"id"`
	ChannelID string     `json:"channelId"`
	UserID    string     `json:"userId"`
	Username  string     `json:"username"`
	Content   string     `json:"content"`
	Edited    bool       `json:"edited"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	Deleted   bool       `json:"deleted"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Page describes one page of a message listing.
type Page struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id              TEXT PRIMARY KEY,
	username        TEXT NOT NULL UNIQUE,
	email           TEXT NOT NULL DEFAULT '',
	hashed_password BLOB NOT NULL,
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS channels (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	is_private  INTEGER NOT NULL DEFAULT 0,
	created_by  TEXT NOT NULL REFERENCES users(id),
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS channel_members (
	channel_id TEXT NOT NULL REFERENCES channels(id),
	user_id    TEXT NOT NULL REFERENCES users(id),
	PRIMARY KEY (channel_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL REFERENCES channels(id),
	user_id    TEXT NOT NULL REFERENCES users(id),
	username   TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	edited     INTEGER NOT NULL DEFAULT 0,
	edited_at  DATETIME,
	deleted    INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_channel_created ON messages(channel_id, created_at);
CREATE INDEX IF NOT EXISTS idx_channel_members_user ON channel_members(user_id);
`

// New opens the SQLite database and initializes the schema.
func New(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// go-sqlite3 serializes writes anyway; a single pooled connection
	// keeps in-memory databases coherent in tests as well.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		logger: logger.With(slog.String("component", "store")),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// compile-time check: the store serves as the dispatcher's directory.
var _ realtime.Directory = (*Store)(nil)
