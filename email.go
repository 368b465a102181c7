package creatorauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Mailer delivers email. Applications provide their own implementation.
type Mailer interface {
	SendMessage(ctx context.Context, to, subject, body string) error
}

// ConsoleMailer is a development implementation that logs emails instead of sending them.
type ConsoleMailer struct {
	Logger *slog.Logger
}

func (c *ConsoleMailer) SendMessage(ctx context.Context, to, subject, body string) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "EMAIL", "to", to, "subject", subject, "body", body)
	return nil
}

func challengeMessage(appName string, ch Challenge, validity time.Duration) (subject, body string) {
	minutes := int(validity.Round(time.Minute) / time.Minute)
	switch ch.Purpose {
	case PurposePasswordReset:
		subject = fmt.Sprintf("%s password reset code", appName)
		body = fmt.Sprintf("Your password reset code is %s. It expires in %d minutes. If you did not ask to reset your password you can ignore this email.", ch.Code, minutes)
	default:
		subject = fmt.Sprintf("Verify your %s account", appName)
		body = fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", ch.Code, minutes)
	}
	return subject, body
}
