package users

import "time"

// User is an enrolled account. The long-term device key is stored hashed;
// the plaintext key leaves the server exactly once, in the /verify reply.
type User struct {
	Username string
	Email    string
	KeyHash  string
}

// OTP is a one-time enrollment code awaiting verification.
type OTP struct {
	Username  string
	Email     string
	CodeHash  string
	ExpiresAt time.Time
}
