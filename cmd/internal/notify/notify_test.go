package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	addr string
	from string
	to   []string
	msg  string
}

func fakeSMTP(t *testing.T, cfg SMTPConfig, fail error) (*SMTPNotifier, *[]sent) {
	t.Helper()
	var out []sent
	n, err := newSMTPNotifier(cfg, func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if fail != nil {
			return fail
		}
		out = append(out, sent{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	})
	require.NoError(t, err)
	return n, &out
}

func TestOTPBody(t *testing.T) {
	assert.Equal(t, "Your OTP is: 012345. It expires in 10 minutes.", otpBody("012345", 10*time.Minute))
}

func TestSMTPNotifier_SendOTP(t *testing.T) {
	n, out := fakeSMTP(t, SMTPConfig{Host: "smtp.local", Port: 587, From: "no-reply@medauth.local"}, nil)

	require.NoError(t, n.SendOTP(context.Background(), "alice@x.io", "123456", 10*time.Minute))
	require.Len(t, *out, 1)

	got := (*out)[0]
	assert.Equal(t, "smtp.local:587", got.addr)
	assert.Equal(t, []string{"alice@x.io"}, got.to)
	assert.Contains(t, got.msg, "Subject: Password Reset OTP\r\n")
	assert.Contains(t, got.msg, "Your OTP is: 123456. It expires in 10 minutes.")
}

func TestSMTPNotifier_AlertAdmin(t *testing.T) {
	n, out := fakeSMTP(t, SMTPConfig{Host: "smtp.local", Port: 25, From: "a@b.c"}, nil)
	require.NoError(t, n.AlertAdmin(context.Background(), "x", "y"))
	assert.Empty(t, *out, "no admin configured")

	n, out = fakeSMTP(t, SMTPConfig{Host: "smtp.local", Port: 25, From: "a@b.c", AdminEmail: "ops@b.c"}, nil)
	require.NoError(t, n.AlertAdmin(context.Background(), "OTP delivery failed", "details"))
	require.Len(t, *out, 1)
	assert.Contains(t, (*out)[0].msg, "Subject: [ALERT] OTP delivery failed\r\n")
}

func TestSMTPNotifier_Failures(t *testing.T) {
	n, _ := fakeSMTP(t, SMTPConfig{Host: "smtp.local", Port: 25, From: "a@b.c"}, errors.New("relay down"))
	err := n.SendOTP(context.Background(), "alice@x.io", "1", time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)

	n, _ = fakeSMTP(t, SMTPConfig{Host: "smtp.local", Port: 25, From: "a@b.c"}, nil)
	err = n.SendOTP(context.Background(), "alice@x.io\r\nBcc: evil@x.io", "1", time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)

	for _, cfg := range []SMTPConfig{
		{Port: 25, From: "a@b.c"},
		{Host: "h", Port: 0, From: "a@b.c"},
		{Host: "h", Port: 25},
	} {
		_, err := NewSMTPNotifier(cfg)
		assert.Error(t, err, "%+v", cfg)
	}
}

func TestLogNotifier_DoesNotLogCodeAtInfo(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	n := NewLogNotifier(log)

	require.NoError(t, n.SendOTP(context.Background(), "alice@x.io", "987654", 10*time.Minute))
	require.NoError(t, n.AlertAdmin(context.Background(), "subj", "msg"))

	out := buf.String()
	assert.Contains(t, out, "notify.otp.sent")
	assert.Contains(t, out, "[ALERT] subj")
	assert.False(t, strings.Contains(out, "987654"))
}
