package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"medauth/cmd/security/token"
)

const (
	wsSubprotocolV1 = "medauth.notify.v1"

	wsDefaultSendQueueSize = 32
	wsMinSendQueueSize     = 8

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"

	wsTokenQueryParam = "access_token"
)

// Authenticator verifies a raw access token. *authapi.Gatekeeper satisfies it;
// the gateway never touches stores or signing secrets directly.
type Authenticator interface {
	Verify(raw string) (token.Claims, string, bool)
}

// ActivityToucher records that a connected user is still active.
type ActivityToucher interface {
	TouchActivity(ctx context.Context, userID string) error
}

// ConnMetrics counts open connections.
type ConnMetrics interface {
	ConnOpened()
	ConnClosed()
}

// GatewayConfig holds the socket's policy knobs.
type GatewayConfig struct {
	// DevInsecure disables websocket.Accept's origin verification entirely.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig returns the secure defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    wsDefaultOriginRequired,
		AllowedOrigins:    splitCSV(wsDefaultAllowedOrigins),
		WriteTimeout:      wsDefaultWriteTimeout,
		ReadIdleTimeout:   wsDefaultReadIdle,
		SendQueueSize:     wsDefaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

// GatewayConfigFromEnv overlays MEDAUTH_WS_* variables on the defaults.
// Unparseable values keep the default.
func GatewayConfigFromEnv() GatewayConfig {
	c := DefaultGatewayConfig()
	c.DevInsecure = envBoolWS("MEDAUTH_WS_DEV_INSECURE", c.DevInsecure)
	c.OriginRequired = envBoolWS("MEDAUTH_WS_ORIGIN_REQUIRED", c.OriginRequired)
	if v := strings.TrimSpace(os.Getenv("MEDAUTH_WS_ALLOWED_ORIGINS")); v != "" {
		c.AllowedOrigins = splitCSV(v)
	}
	c.WriteTimeout = envDurationWS("MEDAUTH_WS_WRITE_TIMEOUT", c.WriteTimeout)
	c.ReadIdleTimeout = envDurationWS("MEDAUTH_WS_READ_IDLE_TIMEOUT", c.ReadIdleTimeout)
	c.SendQueueSize = envIntWS("MEDAUTH_WS_SEND_QUEUE", c.SendQueueSize)
	c.HeartbeatInterval = envDurationWS("MEDAUTH_WS_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.HeartbeatTimeout = envDurationWS("MEDAUTH_WS_HEARTBEAT_TIMEOUT", c.HeartbeatTimeout)
	c.RateEvents = envIntWS("MEDAUTH_WS_RATE_EVENTS", c.RateEvents)
	c.RateWindow = envDurationWS("MEDAUTH_WS_RATE_WINDOW", c.RateWindow)
	return c
}

// WSGateway is the websocket entrypoint for server-pushed notifications.
//
// It authenticates the upgrade, enforces origin policy, subprotocol selection,
// rate limits and heartbeats, and registers the connection with the Hub.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	auth     Authenticator
	activity ActivityToucher
	metrics  ConnMetrics
	now      func() time.Time

	cfg GatewayConfig

	// websocket.Accept authorizes same-host origins itself; cross-origin
	// requests need host patterns derived from the allowlist.
	originPatterns []string
}

// GatewayOption customizes a WSGateway.
type GatewayOption func(*WSGateway)

// WithActivity touches the user's activity on connect and on every
// successful heartbeat.
func WithActivity(a ActivityToucher) GatewayOption {
	return func(g *WSGateway) { g.activity = a }
}

// WithConnMetrics records open connections.
func WithConnMetrics(m ConnMetrics) GatewayOption {
	return func(g *WSGateway) { g.metrics = m }
}

// WithGatewayClock overrides the clock used for rate limiting and envelopes.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *WSGateway) { g.now = now }
}

// NewWSGateway constructs a gateway. hub and authenticator are required.
func NewWSGateway(log *slog.Logger, hub *Hub, authn Authenticator, cfg GatewayConfig, opts ...GatewayOption) (*WSGateway, error) {
	if hub == nil {
		return nil, errors.New("realtime: nil hub")
	}
	if authn == nil {
		return nil, errors.New("realtime: nil authenticator")
	}
	if log == nil {
		log = slog.Default()
	}

	def := DefaultGatewayConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}

	g := &WSGateway{
		log:            log,
		hub:            hub,
		auth:           authn,
		now:            func() time.Time { return time.Now().UTC() },
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates and upgrades the request, then runs the connection
// until either side closes it.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	raw := accessTokenFrom(r)
	if raw == "" {
		http.Error(w, "Access token not found", http.StatusUnauthorized)
		return
	}
	claims, msg, ok := g.auth.Verify(raw)
	if !ok {
		g.log.Info("ws.reject.auth", "reason", msg, "remote", r.RemoteAddr)
		http.Error(w, msg, http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(uuid.NewString(), claims.UserID, claims.Role, g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g.hub.Attach(client)
	if g.metrics != nil {
		g.metrics.ConnOpened()
	}
	g.log.Info("ws.open", "conn_id", client.ID, "user_id", client.UserID)
	g.touch(ctx, client)

	var closeOnce sync.Once
	// shutdown detaches before closing so publishers never see a closed client.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Detach(client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			if g.metrics != nil {
				g.metrics.ConnClosed()
			}
			g.log.Info("ws.close", "conn_id", client.ID, "user_id", client.UserID, "reason", reason)
		})
	}

	hello, _ := json.Marshal(HelloAckPayload{ConnectionID: client.ID, UserID: client.UserID})
	client.offer(newEnvelope(TypeHelloAck, hello, g.now()))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", client.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown)
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		data, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "conn_id", client.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if ok, _ := rl.Allow(g.now()); !ok {
			// Written inline: the queue is abandoned once shutdown runs.
			p, _ := json.Marshal(ErrorPayload{Code: "rate_limited", Message: "too many frames"})
			_ = writeEnvelope(ctx, conn, newEnvelope(TypeError, p, g.now()), g.cfg.WriteTimeout)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.sendError(client, "bad_json", "invalid JSON")
			continue
		}
		if err := env.Validate(); err != nil {
			g.sendError(client, "bad_envelope", err.Error())
			continue
		}

		switch env.Type {
		case TypePing:
			client.offer(newEnvelope(TypePong, nil, g.now()))
		default:
			g.sendError(client, "unsupported", "unsupported type: "+env.Type)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

func (g *WSGateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "conn_id", client.ID, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
			g.touch(ctx, client)
		}
	}
}

func (g *WSGateway) touch(ctx context.Context, client *Client) {
	if g.activity == nil {
		return
	}
	if err := g.activity.TouchActivity(ctx, client.UserID); err != nil {
		g.log.Warn("ws.touch.fail", "user_id", client.UserID, "err", err)
	}
}

func (g *WSGateway) sendError(client *Client, code, msg string) {
	p, _ := json.Marshal(ErrorPayload{Code: code, Message: msg})
	client.offer(newEnvelope(TypeError, p, g.now()))
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, errors.New("unsupported message type")
	}
	return data, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- auth ----

// accessTokenFrom prefers the query parameter since browsers cannot set
// headers on a websocket upgrade.
func accessTokenFrom(r *http.Request) string {
	if v := strings.TrimSpace(r.URL.Query().Get(wsTokenQueryParam)); v != "" {
		return v
	}
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, rest, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(rest)
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		switch {
		case a == "*":
			return nil
		case origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return errors.New("origin not allowed: " + origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatterns(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" || slices.Contains(out, h) {
			continue
		}
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
