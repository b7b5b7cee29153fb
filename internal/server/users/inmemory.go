package users

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/clipsync/internal/common"
)

type InMemoryRepository struct {
	mu    sync.Mutex
	users map[string]User
	otps  map[string]OTP // keyed username + "\x00" + email
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users: map[string]User{},
		otps:  map[string]OTP{},
	}
}

func otpKey(username, email string) string { return username + "\x00" + email }

func (r *InMemoryRepository) Exists(ctx context.Context, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[username]
	return ok, nil
}

func (r *InMemoryRepository) Get(ctx context.Context, username string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[username]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &u, nil
}

func (r *InMemoryRepository) Create(ctx context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.Username] = *user
	return nil
}

func (r *InMemoryRepository) SaveOTP(ctx context.Context, otp *OTP) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.otps[otpKey(otp.Username, otp.Email)] = *otp
	return nil
}

func (r *InMemoryRepository) ConsumeOTP(ctx context.Context, username, email string) (*OTP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := otpKey(username, email)
	otp, ok := r.otps[key]
	if !ok {
		return nil, common.ErrNotFound
	}
	delete(r.otps, key)
	return &otp, nil
}
