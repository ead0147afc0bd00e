package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/teamchat/realtime/internal/realtime"
)

// CreateChannel persists a new channel with the creator as its first
// member. A duplicate name fails with ErrDuplicate.
func (s *Store) CreateChannel(ctx context.Context, name, description string, isPrivate bool, createdBy string) (*realtime.Channel, error) {
	id := uuid.NewString()
	createdAt := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO channels (id, name, description, is_private, created_by, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, description, isPrivate, createdBy, createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channel_members (channel_id, user_id) VALUES (?, ?)`, id, createdBy); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetChannel(ctx, id)
}

// GetChannel loads a channel with its member list. Implements the
// dispatcher's Directory; an unknown id fails with ErrNotFound.
func (s *Store) GetChannel(ctx context.Context, channelID string) (*realtime.Channel, error) {
	var ch realtime.Channel
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, is_private, created_by, created_at FROM channels WHERE id = ?`, channelID,
	).Scan(&ch.ID, &ch.Name, &ch.Description, &ch.IsPrivate, &ch.CreatedBy, &ch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	members, err := s.channelMembers(ctx, channelID)
	if err != nil {
		return nil, err
	}
	ch.Members = members
	return &ch, nil
}

func (s *Store) channelMembers(ctx context.Context, channelID string) ([]realtime.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username FROM channel_members cm JOIN users u ON u.id = cm.user_id WHERE cm.channel_id = ? ORDER BY u.username`,
		channelID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]realtime.Member, 0)
	for rows.Next() {
		var m realtime.Member
		if err := rows.Scan(&m.UserID, &m.Username); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListChannelsFor returns every channel the user can access: all public
// channels plus private channels they are a member of, newest first.
func (s *Store) ListChannelsFor(ctx context.Context, userID string) ([]*realtime.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM channels
		 WHERE is_private = 0
		    OR id IN (SELECT channel_id FROM channel_members WHERE user_id = ?)
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	channels := make([]*realtime.Channel, 0, len(ids))
	for _, id := range ids {
		ch, err := s.GetChannel(ctx, id)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// AddMember adds a user to a channel's persisted member list and
// reports whether the membership is new.
func (s *Store) AddMember(ctx context.Context, channelID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO channel_members (channel_id, user_id) VALUES (?, ?)`, channelID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveMember removes a user from a channel's persisted member list and
// reports whether they were a member.
func (s *Store) RemoveMember(ctx context.Context, channelID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_members WHERE channel_id = ? AND user_id = ?`, channelID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// IsMember reports persisted channel membership.
func (s *Store) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM channel_members WHERE channel_id = ? AND user_id = ?`, channelID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
