package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medauth/cmd/identity"
	"medauth/cmd/internal/auth/session"
	"medauth/cmd/security/password"
	"medauth/cmd/security/token"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeNotifier struct {
	mu      sync.Mutex
	codes   map[string]string
	alerts  []string
	sendErr error
}

func (n *fakeNotifier) SendOTP(_ context.Context, to, code string, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return n.sendErr
	}
	n.codes[to] = code
	return nil
}

func (n *fakeNotifier) AlertAdmin(_ context.Context, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, subject)
	return nil
}

func (n *fakeNotifier) code(to string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[to]
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Reason)
	}
	return out
}

type harness struct {
	engine   *Engine
	users    *identity.MemoryStore
	sessions *session.MemoryStore
	signer   *token.Signer
	notifier *fakeNotifier
	events   *recorder
	clock    *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	hasher := password.DefaultConfig()
	hasher.Params.MemoryKiB = 8 * 1024
	hasher.Params.Iterations = 1
	hasher.Params.Parallelism = 1

	signer, err := token.NewSigner(token.SignerConfig{
		Issuer:        "medauth-test",
		AccessSecret:  []byte(strings.Repeat("a", 32)),
		RefreshSecret: []byte(strings.Repeat("r", 32)),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	users := identity.NewMemoryStore()
	sessions := session.NewMemoryStore(users)
	h := &harness{
		users:    users,
		sessions: sessions,
		signer:   signer,
		notifier: &fakeNotifier{codes: map[string]string{}},
		events:   &recorder{},
		clock:    &clock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)},
	}

	h.engine, err = New(DefaultConfig(), Deps{
		Users:     users,
		Sessions:  session.NewService(signer, sessions),
		Hasher:    hasher,
		Notifier:  h.notifier,
		Publisher: h.events,
		Now:       h.clock.Now,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) register(t *testing.T, email, pw string, role identity.Role) UserSummary {
	t.Helper()
	u, err := h.engine.Register(context.Background(), RegisterInput{
		FullName: "Alice Doe",
		Email:    email,
		Password: pw,
		Role:     role,
	})
	require.NoError(t, err)
	return u
}

func (h *harness) login(t *testing.T, email, pw string, role identity.Role) Tokens {
	t.Helper()
	tok, err := h.engine.Login(context.Background(), LoginInput{Email: email, Password: pw, Role: role})
	require.NoError(t, err)
	return tok
}

func TestAliceExample(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.register(t, "alice@x.io", "secret1", identity.RolePatient)
	assert.Equal(t, "PATIENT", alice.Role)

	tok := h.login(t, "alice@x.io", "secret1", identity.RolePatient)
	assert.NotEmpty(t, tok.AccessToken)
	assert.NotEmpty(t, tok.RefreshToken)
	assert.Equal(t, alice.ID, tok.Session.User.ID)

	claims, err := h.signer.VerifyAccess(tok.AccessToken, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, alice.ID, claims.UserID)
	assert.Equal(t, "PATIENT", claims.Role)
	assert.Equal(t, "alice@x.io", claims.Email)

	u, err := h.users.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, u.IsOnline)

	_, err = h.engine.Login(ctx, LoginInput{Email: "alice@x.io", Password: "secret1", Role: identity.RoleDoctor})
	assert.ErrorIs(t, err, ErrRoleMismatch)

	_, err = h.engine.Login(ctx, LoginInput{Email: "alice@x.io", Password: "wrong-pass", Role: identity.RolePatient})
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = h.engine.Login(ctx, LoginInput{Email: "bob@x.io", Password: "secret1", Role: identity.RolePatient})
	assert.ErrorIs(t, err, ErrUnknownEmail)

	// Only the successful login created a session.
	assert.Equal(t, 1, h.sessions.Len())
}

func TestRegister_Duplicate(t *testing.T) {
	h := newHarness(t)
	first := h.register(t, "alice@x.io", "secret1", identity.RolePatient)

	_, err := h.engine.Register(context.Background(), RegisterInput{
		FullName: "Impostor",
		Email:    " ALICE@x.io ",
		Password: "another1",
		Role:     identity.RoleAdmin,
	})
	require.ErrorIs(t, err, ErrDuplicateEmail)
	assert.Equal(t, ErrDuplicateEmail, KindOf(err))

	u, err := h.users.GetUserByEmail(context.Background(), "alice@x.io")
	require.NoError(t, err)
	assert.Equal(t, first.ID, u.ID)
	assert.Equal(t, identity.RolePatient, u.Role)
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Register(ctx, RegisterInput{FullName: "A", Email: "a@x.io", Password: "123"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, err, password.ErrPasswordTooShort)

	_, err = h.engine.Register(ctx, RegisterInput{FullName: "A", Email: "a@x.io", Password: "secret1", Role: "NURSE"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.engine.Register(ctx, RegisterInput{FullName: " ", Email: "a@x.io", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	u, err := h.engine.Register(ctx, RegisterInput{FullName: "A", Email: "a@x.io", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "PATIENT", u.Role)
}

func TestRefresh_RotationAndReuse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice@x.io", "secret1", identity.RolePatient)
	first := h.login(t, "alice@x.io", "secret1", identity.RolePatient)

	h.clock.Advance(time.Minute)
	second, err := h.engine.RefreshAccessToken(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, "alice@x.io", second.Session.User.Email)

	_, err = h.engine.RefreshAccessToken(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrReuseOrExpired)
	assert.Zero(t, h.sessions.Len())
	assert.Contains(t, h.events.reasons(), "refresh_reuse_or_expired")
	h.engine.alerts.wait()
	h.notifier.mu.Lock()
	assert.Equal(t, []string{"Refresh token reuse detected"}, h.notifier.alerts)
	h.notifier.mu.Unlock()

	_, err = h.engine.RefreshAccessToken(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRefresh_Failures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.RefreshAccessToken(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = h.engine.RefreshAccessToken(ctx, "not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredRefreshToken)

	h.register(t, "alice@x.io", "secret1", identity.RolePatient)
	tok := h.login(t, "alice@x.io", "secret1", identity.RolePatient)

	h.clock.Advance(8 * 24 * time.Hour)
	_, err = h.engine.RefreshAccessToken(ctx, tok.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredRefreshToken)
	assert.Zero(t, h.sessions.Len(), "session named by an expired token is deleted")
	assert.Contains(t, h.events.reasons(), "invalid_refresh")
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice@x.io", "secret1", identity.RolePatient)
	bob := h.register(t, "bob@x.io", "secret2", identity.RoleDoctor)
	tok := h.login(t, "alice@x.io", "secret1", identity.RolePatient)

	err := h.engine.Logout(ctx, tok.Session.ID, bob.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, h.engine.Logout(ctx, tok.Session.ID, alice.ID))
	u, _ := h.users.GetUserByID(ctx, alice.ID)
	assert.False(t, u.IsOnline)
	assert.Contains(t, h.events.reasons(), "logout")

	assert.ErrorIs(t, h.engine.Logout(ctx, tok.Session.ID, alice.ID), ErrSessionNotFound)

	_, err = h.engine.RefreshAccessToken(ctx, tok.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRefresh_ConcurrentExactlyOneSucceeds(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice@x.io", "secret1", identity.RolePatient)
	tok := h.login(t, "alice@x.io", "secret1", identity.RolePatient)

	const n = 6
	results := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.RefreshAccessToken(context.Background(), tok.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, ErrReuseOrExpired) || errors.Is(err, ErrSessionNotFound), "got %v", err)
	}
	assert.Equal(t, 1, ok)
	assert.Zero(t, h.sessions.Len())
}

func TestOTPResetFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice@x.io", "secret1", identity.RolePatient)
	old := h.login(t, "alice@x.io", "secret1", identity.RolePatient)

	assert.ErrorIs(t, h.engine.ForgetPassword(ctx, "nobody@x.io"), ErrUnknownEmail)
	assert.ErrorIs(t, h.engine.VerifyOtp(ctx, "alice@x.io", "000000"), ErrOtpMismatch, "no pending code")
	assert.ErrorIs(t, h.engine.ResetPassword(ctx, "alice@x.io", "newpass1"), ErrOtpNotVerified)

	require.NoError(t, h.engine.ForgetPassword(ctx, "alice@x.io"))
	code := h.notifier.code("alice@x.io")
	require.Len(t, code, 6)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	assert.ErrorIs(t, h.engine.VerifyOtp(ctx, "alice@x.io", wrong), ErrOtpMismatch)
	assert.ErrorIs(t, h.engine.ResetPassword(ctx, "alice@x.io", "newpass1"), ErrOtpNotVerified)

	require.NoError(t, h.engine.VerifyOtp(ctx, "alice@x.io", code))
	assert.ErrorIs(t, h.engine.ResetPassword(ctx, "alice@x.io", "123"), ErrInvalidInput)
	require.NoError(t, h.engine.ResetPassword(ctx, "alice@x.io", "newpass1"))

	// Old sessions are gone and the user is offline.
	assert.Zero(t, h.sessions.Len())
	assert.Contains(t, h.events.reasons(), "password_reset")
	u, _ := h.users.GetUserByID(ctx, alice.ID)
	assert.False(t, u.IsOnline)
	assert.Nil(t, u.OTP)

	_, err := h.engine.RefreshAccessToken(ctx, old.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = h.engine.Login(ctx, LoginInput{Email: "alice@x.io", Password: "secret1", Role: identity.RolePatient})
	assert.ErrorIs(t, err, ErrBadCredentials)
	h.login(t, "alice@x.io", "newpass1", identity.RolePatient)

	// The code was consumed by the reset.
	assert.ErrorIs(t, h.engine.ResetPassword(ctx, "alice@x.io", "another1"), ErrOtpNotVerified)
}

func TestOTPExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice@x.io", "secret1", identity.RolePatient)

	require.NoError(t, h.engine.ForgetPassword(ctx, "alice@x.io"))
	code := h.notifier.code("alice@x.io")

	h.clock.Advance(11 * time.Minute)
	assert.ErrorIs(t, h.engine.VerifyOtp(ctx, "alice@x.io", code), ErrOtpExpired)

	// Verified but expired before the reset.
	require.NoError(t, h.engine.ForgetPassword(ctx, "alice@x.io"))
	code = h.notifier.code("alice@x.io")
	require.NoError(t, h.engine.VerifyOtp(ctx, "alice@x.io", code))
	h.clock.Advance(11 * time.Minute)
	assert.ErrorIs(t, h.engine.ResetPassword(ctx, "alice@x.io", "newpass1"), ErrOtpNotVerified)
}

func TestForgetPassword_NotifierDown(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice@x.io", "secret1", identity.RolePatient)
	h.notifier.sendErr = errors.New("smtp down")

	err := h.engine.ForgetPassword(context.Background(), "alice@x.io")
	require.ErrorIs(t, err, ErrNotifierUnavailable)
	h.engine.alerts.wait()

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	assert.Equal(t, []string{"OTP delivery failed"}, h.notifier.alerts)
}

func TestMeAndOnlineCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice@x.io", "secret1", identity.RolePatient)
	h.register(t, "doc@x.io", "secret2", identity.RoleDoctor)

	n, err := h.engine.OnlineCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.login(t, "alice@x.io", "secret1", identity.RolePatient)
	h.login(t, "doc@x.io", "secret2", identity.RoleDoctor)
	n, err = h.engine.OnlineCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	me, err := h.engine.Me(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice, me)

	_, err = h.engine.Me(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MEDAUTH_OTP_TTL", "")
	t.Setenv("MEDAUTH_OTP_DIGITS", "")
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	t.Setenv("MEDAUTH_OTP_TTL", "5m")
	t.Setenv("MEDAUTH_OTP_DIGITS", "8")
	cfg, err = ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.OTPTTL)
	assert.Equal(t, 8, cfg.OTPDigits)

	t.Setenv("MEDAUTH_OTP_TTL", "10s")
	_, err = ConfigFromEnv()
	assert.Error(t, err)
}
