// Package users implements account enrollment and credential checks: the
// OTP signup flow, login, and the hashed long-term key a device exchanges
// for bearer tokens.
package users

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/clipsync/internal/common"
	"github.com/dmitrijs2005/clipsync/internal/protocol"
)

type Service struct {
	repo   Repository
	mailer Mailer
	now    func() time.Time
}

func NewService(repo Repository, mailer Mailer) *Service {
	return &Service{repo: repo, mailer: mailer, now: time.Now}
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Exists answers /usercheck.
func (s *Service) Exists(ctx context.Context, username string) (bool, error) {
	return s.repo.Exists(ctx, username)
}

// SignIn starts enrollment: issues an OTP for the username/email pair and
// hands it to the mailer.
func (s *Service) SignIn(ctx context.Context, username, email string) error {
	code := uuid.NewString()[:8]

	otp := &OTP{
		Username:  username,
		Email:     email,
		CodeHash:  hash(code),
		ExpiresAt: s.now().Add(otpTTL),
	}
	if err := s.repo.SaveOTP(ctx, otp); err != nil {
		return fmt.Errorf("save otp: %w", err)
	}

	if err := s.mailer.SendOTP(ctx, email, code); err != nil {
		return fmt.Errorf("send otp: %w", err)
	}
	return nil
}

// Verify completes enrollment: checks the OTP and mints the long-term key.
// The plaintext key is returned to the device and only its hash is kept.
func (s *Service) Verify(ctx context.Context, username, email, code string) (*protocol.UserCred, error) {
	otp, err := s.repo.ConsumeOTP(ctx, username, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidOTP
		}
		return nil, err
	}

	if s.now().After(otp.ExpiresAt) || otp.CodeHash != hash(code) {
		return nil, common.ErrInvalidOTP
	}

	key := uuid.NewString()
	user := &User{Username: username, Email: email, KeyHash: hash(key)}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &protocol.UserCred{Username: username, Key: key}, nil
}

// CheckKey validates a long-term credential for /login and /getkey. Any
// failure maps to ErrUnauthorized so the HTTP layer can answer a uniform 401.
func (s *Service) CheckKey(ctx context.Context, cred protocol.UserCred) error {
	user, err := s.repo.Get(ctx, cred.Username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrUnauthorized
		}
		return err
	}
	if user.KeyHash != hash(cred.Key) {
		return common.ErrUnauthorized
	}
	return nil
}
