package leave

import (
	"context"

	"go.uber.org/zap"
)

// NotificationGateway delivers notifications to employees. Delivery is
// best-effort everywhere in this engine: callers log failures and continue,
// a failed send never aborts a ledger or request mutation.
type NotificationGateway interface {
	Send(ctx context.Context, recipientEmail, subject, body string) error
}

// LogNotifier is a NotificationGateway that only logs. Real delivery
// (email/SMS) lives behind an external gateway outside this engine.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("leave.notify")}
}

func (n *LogNotifier) Send(ctx context.Context, recipientEmail, subject, body string) error {
	n.logger.Info("notification",
		zap.String("recipient", recipientEmail),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
