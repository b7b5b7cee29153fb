package users

import (
	"context"

	"github.com/dmitrijs2005/clipsync/internal/logging"
)

// Mailer delivers an enrollment code. SMTP delivery is plugged in from the
// outside; the default implementation only logs, which is enough for
// development and tests.
type Mailer interface {
	SendOTP(ctx context.Context, email, code string) error
}

type LogMailer struct {
	logger logging.Logger
}

func NewLogMailer(logger logging.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("module", "mailer")}
}

func (m *LogMailer) SendOTP(ctx context.Context, email, code string) error {
	m.logger.Info(ctx, "otp issued", "email", email, "code", code)
	return nil
}
