package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"discharge_tester/internal/models"
)

// UserSQLite keeps operator accounts in the users table.
type UserSQLite struct {
	db *sql.DB
}

func NewUserSQLite(db *sql.DB) *UserSQLite {
	return &UserSQLite{db: db}
}

var _ Authorization = (*UserSQLite)(nil)

const (
	insertUserSQL = `INSERT INTO users (username, password_hash) VALUES (?, ?)`
	selectUserSQL = `SELECT id, username, password_hash, created_at FROM users WHERE username = ?`
)

// Create inserts an account and returns its id. A taken username gives ErrDuplicate.
func (r *UserSQLite) Create(ctx context.Context, username, passwordHash string) (int, error) {
	res, err := r.db.ExecContext(ctx, insertUserSQL, username, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("user %q: %w", username, ErrDuplicate)
		}
		return 0, fmt.Errorf("insert user %q: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user %q id: %w", username, err)
	}
	return int(id), nil
}

// GetByUsername returns ErrNotFound for an unknown username.
func (r *UserSQLite) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := r.db.QueryRowContext(ctx, selectUserSQL, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("select user %q: %w", username, err)
	}
	u.CreatedAt = toUTC(u.CreatedAt)
	return &u, nil
}

// modernc reports constraint failures only through the message text.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
