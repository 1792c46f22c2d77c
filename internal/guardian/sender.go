package guardian

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender is a development EmailSender that writes alerts to the log
// instead of delivering mail. Production injects the real email collaborator.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "email").Logger()}
}

// Send logs the alert instead of sending it.
func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Msg("guardian alert (dev log sender)")
	return nil
}
