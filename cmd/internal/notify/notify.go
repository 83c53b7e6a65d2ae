// Package notify delivers password-reset codes and operator alerts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrUnavailable wraps delivery failures.
var ErrUnavailable = errors.New("notifier unavailable")

// Notifier delivers out-of-band messages.
type Notifier interface {
	// SendOTP delivers a reset code valid for ttl to destination (an email address).
	SendOTP(ctx context.Context, destination, code string, ttl time.Duration) error
	// AlertAdmin reports an operational problem to the configured operator.
	AlertAdmin(ctx context.Context, subject, message string) error
}

const otpSubject = "Password Reset OTP"

func otpBody(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your OTP is: %s. It expires in %d minutes.", code, int(ttl.Round(time.Minute)/time.Minute))
}

func alertSubject(subject string) string {
	return "[ALERT] " + subject
}

// LogNotifier writes messages to the log instead of delivering them. It is the
// development default; codes are only logged at debug level.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier returns a LogNotifier writing to log.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendOTP(ctx context.Context, destination, code string, ttl time.Duration) error {
	n.log.InfoContext(ctx, "notify.otp.sent", "to", destination, "subject", otpSubject, "ttl", ttl.String())
	n.log.DebugContext(ctx, "notify.otp.body", "to", destination, "body", otpBody(code, ttl))
	return nil
}

func (n *LogNotifier) AlertAdmin(ctx context.Context, subject, message string) error {
	n.log.WarnContext(ctx, "notify.admin.alert", "subject", alertSubject(subject), "message", message)
	return nil
}

// Noop discards everything.
type Noop struct{}

func (Noop) SendOTP(context.Context, string, string, time.Duration) error { return nil }
func (Noop) AlertAdmin(context.Context, string, string) error            { return nil }

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Noop{}
	_ Notifier = (*SMTPNotifier)(nil)
)
