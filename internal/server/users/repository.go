package users

import (
	"context"
	"time"
)

// Repository persists accounts and pending OTPs. Postgres backs production;
// the in-memory implementation serves tests and DSN-less runs.
type Repository interface {
	Exists(ctx context.Context, username string) (bool, error)
	Get(ctx context.Context, username string) (*User, error)
	Create(ctx context.Context, user *User) error

	SaveOTP(ctx context.Context, otp *OTP) error

	// ConsumeOTP returns and deletes the pending OTP for the pair. Missing
	// entries surface as common.ErrNotFound.
	ConsumeOTP(ctx context.Context, username, email string) (*OTP, error)
}

// otpTTL bounds how long an emailed code stays valid.
const otpTTL = 10 * time.Minute
