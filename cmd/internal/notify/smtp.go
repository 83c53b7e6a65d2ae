package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig configures SMTPNotifier.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	AdminEmail string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier delivers plain-text mail through an SMTP relay.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send SendFunc
}

// NewSMTPNotifier validates cfg and returns a notifier using smtp.SendMail.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	return newSMTPNotifier(cfg, smtp.SendMail)
}

func newSMTPNotifier(cfg SMTPConfig, send SendFunc) (*SMTPNotifier, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.From = strings.TrimSpace(cfg.From)
	switch {
	case cfg.Host == "":
		return nil, fmt.Errorf("notify: smtp host is required")
	case cfg.Port <= 0 || cfg.Port > 65535:
		return nil, fmt.Errorf("notify: invalid smtp port %d", cfg.Port)
	case cfg.From == "":
		return nil, fmt.Errorf("notify: smtp from address is required")
	}
	return &SMTPNotifier{cfg: cfg, send: send}, nil
}

func (n *SMTPNotifier) SendOTP(ctx context.Context, destination, code string, ttl time.Duration) error {
	return n.deliver(ctx, destination, otpSubject, otpBody(code, ttl))
}

// AlertAdmin mails the operator. Without an AdminEmail alerts are dropped.
func (n *SMTPNotifier) AlertAdmin(ctx context.Context, subject, message string) error {
	if strings.TrimSpace(n.cfg.AdminEmail) == "" {
		return nil
	}
	return n.deliver(ctx, n.cfg.AdminEmail, alertSubject(subject), message)
}

func (n *SMTPNotifier) deliver(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to = strings.TrimSpace(to)
	if to == "" || strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("%w: invalid recipient or subject", ErrUnavailable)
	}

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	addr := net.JoinHostPort(n.cfg.Host, fmt.Sprint(n.cfg.Port))
	if err := n.send(addr, auth, n.cfg.From, []string{to}, buildMessage(n.cfg.From, to, subject, body)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
