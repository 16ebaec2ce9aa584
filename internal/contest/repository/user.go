package repository

import (
	"context"
	"errors"

	"github.com/nageing/nano-oj-backend/internal/common/db"
)

var ErrUserNotFound = errors.New("user not found")

// UserProfile is the slice of the user row the ranking denormalizes.
type UserProfile struct {
	ID     int64
	Name   string
	Avatar string
}

// UserReader resolves display info for ranking entries.
type UserReader interface {
	GetProfile(ctx context.Context, id int64) (*UserProfile, error)
}

// MySQLUserReader implements UserReader against the users table.
type MySQLUserReader struct {
	db db.Database
}

// NewUserReader creates a user reader.
func NewUserReader(database db.Database) UserReader {
	return &MySQLUserReader{db: database}
}

// GetProfile returns the user's display name and avatar.
func (r *MySQLUserReader) GetProfile(ctx context.Context, id int64) (*UserProfile, error) {
	if id <= 0 {
		return nil, errors.New("id is required")
	}
	row := r.db.QueryRow(ctx, "SELECT id, username, avatar FROM users WHERE id = ?", id)

	var profile UserProfile
	if err := row.Scan(&profile.ID, &profile.Name, &profile.Avatar); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &profile, nil
}
