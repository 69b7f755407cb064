package delivery

import (
	"context"

	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// LogSender is the EmailSender used when no transport is configured. It
// logs instead of sending, for development and dry runs.
type LogSender struct{}

// Send logs the would-be email.
func (LogSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	logger.Info("email send suppressed (no transport configured)",
		"email", to, "subject", subject, "bytes", len(htmlBody))
	return nil
}
