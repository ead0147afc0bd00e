package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

func (s *Store) CreateMessage(ctx context.Context, channelID, userID, username, content string) (*Message, error) {
	m := &Message{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		UserID:    userID,
		Username:  username,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, channel_id, user_id, username, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChannelID, m.UserID, m.Username, m.Content, m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	return s.scanMessage(s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, user_id, username, content, edited, edited_at, deleted, created_at
		 FROM messages WHERE id = ?`, id))
}

// ListMessages returns one page of a channel's messages, oldest first,
// excluding soft-deleted ones.
func (s *Store) ListMessages(ctx context.Context, channelID string, page, limit int) ([]*Message, Page, error) {
	return s.listMessages(ctx, channelID, "", page, limit)
}

// SearchMessages is ListMessages restricted to messages whose content
// contains the query.
func (s *Store) SearchMessages(ctx context.Context, channelID, query string, page, limit int) ([]*Message, Page, error) {
	return s.listMessages(ctx, channelID, query, page, limit)
}

func (s *Store) listMessages(ctx context.Context, channelID, query string, page, limit int) ([]*Message, Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	offset := (page - 1) * limit

	where := `channel_id = ? AND deleted = 0`
	args := []any{channelID}
	if query != "" {
		where += ` AND content LIKE ?`
		args = append(args, "%"+query+"%")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE `+where, args...).Scan(&total); err != nil {
		return nil, Page{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, user_id, username, content, edited, edited_at, deleted, created_at
		 FROM messages WHERE `+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, Page{}, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, Page{}, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, Page{}, err
	}

	// Newest page first, but oldest first within the page.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	p := Page{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
		HasMore:    offset+len(messages) < total,
	}
	return messages, p, nil
}

// UpdateMessage replaces a message's content and marks it edited.
func (s *Store) UpdateMessage(ctx context.Context, id, content string) (*Message, error) {
	editedAt := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, edited = 1, edited_at = ? WHERE id = ? AND deleted = 0`,
		content, editedAt, id,
	)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrNotFound
	}
	return s.GetMessage(ctx, id)
}

// SoftDeleteMessage marks a message deleted and blanks its content.
func (s *Store) SoftDeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET deleted = 1, content = ? WHERE id = ?`, DeletedMessageContent, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanMessage(row *sql.Row) (*Message, error) {
	m, err := scanMessageRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func scanMessageRow(row rowScanner) (*Message, error) {
	var m Message
	var editedAt sql.NullTime
	err := row.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Username, &m.Content,
		&m.Edited, &editedAt, &m.Deleted, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if editedAt.Valid {
		m.EditedAt = &editedAt.Time
	}
	return &m, nil
}
