package protocol

// UserCred is the long-term credential a device holds after enrollment. The
// key is a server-issued bearer secret exchanged for short-lived tokens at
// /getkey.
type UserCred struct {
	Username string `json:"username"`
	Key      string `json:"key"`
}

// HTTP request bodies of the enrollment surface.

type UserCheckRequest struct {
	User string `json:"user"`
}

type SignInRequest struct {
	User  string `json:"user"`
	Email string `json:"email"`
}

type VerifyRequest struct {
	User  string `json:"user"`
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// HealthBody is the literal /health response body.
const HealthBody = "SERVER_ACTIVE"
