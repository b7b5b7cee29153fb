package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/clipsync/internal/common"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Exists(ctx context.Context, username string) (bool, error) {
	query :=
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)
		 `

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, username).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) Get(ctx context.Context, username string) (*User, error) {
	query :=
		`SELECT username, email, key_hash FROM users
		 WHERE username = $1
		 `

	user := &User{}
	err := r.db.QueryRowContext(ctx, query, username).Scan(&user.Username, &user.Email, &user.KeyHash)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) Create(ctx context.Context, user *User) error {
	query :=
		`INSERT INTO users (username, email, key_hash)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO UPDATE SET email = $2, key_hash = $3
		 `

	if _, err := r.db.ExecContext(ctx, query, user.Username, user.Email, user.KeyHash); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveOTP(ctx context.Context, otp *OTP) error {
	query :=
		`INSERT INTO otps (username, email, code_hash, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (username, email) DO UPDATE SET code_hash = $3, expires_at = $4
		 `

	if _, err := r.db.ExecContext(ctx, query, otp.Username, otp.Email, otp.CodeHash, otp.ExpiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ConsumeOTP(ctx context.Context, username, email string) (*OTP, error) {
	query :=
		`DELETE FROM otps
		 WHERE username = $1 AND email = $2
		 RETURNING username, email, code_hash, expires_at
		 `

	otp := &OTP{}
	err := r.db.QueryRowContext(ctx, query, username, email).Scan(&otp.Username, &otp.Email, &otp.CodeHash, &otp.ExpiresAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return otp, nil
}
