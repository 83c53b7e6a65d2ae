// Package main provides a CI-friendly smoke test for the medauth HTTP API and
// notification socket against a running server.
//
// It validates:
//   - register + patient login (access token and refresh cookie)
//   - handshake + subprotocol selection with the access token
//   - hello.ack and ping/pong
//   - logout pushes session.revoked to the user's socket
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "medauth.notify.v1"
	maxReadBytes = 64 << 10
)

// envelope mirrors the socket frame shape.
type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type authResponse struct {
	AccessToken string `json:"accessToken"`
	Session     struct {
		ID string `json:"id"`
	} `json:"session"`
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header for the websocket handshake")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -base: %v", err)
	}

	hc := &http.Client{Timeout: *timeout}
	email := fmt.Sprintf("smoke-%d@example.test", time.Now().UnixNano())
	pass := "smoke-Passw0rd!"

	mustPostJSON(hc, base.JoinPath("/auth/register").String(), "", map[string]string{
		"fullName": "Smoke Test",
		"email":    email,
		"password": pass,
	}, http.StatusCreated, nil)

	var login authResponse
	mustPostJSON(hc, base.JoinPath("/auth/patientLogin").String(), "", map[string]string{
		"email":    email,
		"password": pass,
	}, http.StatusOK, &login)
	if login.AccessToken == "" || login.Session.ID == "" {
		fatalf("login: missing access token or session id")
	}
	if *verbose {
		fmt.Printf("logged in: email=%s session=%s\n", email, login.Session.ID)
	}

	root := context.Background()
	conn := mustConnect(root, wsURL(base, login.AccessToken), *origin, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	mustReadUntilType(root, conn, "hello.ack", *timeout)

	mustWrite(root, conn, envelope{V: 1, Type: "ping", ID: "smoke-ping", TS: time.Now().UTC()}, *timeout)
	mustReadUntilType(root, conn, "pong", *timeout)

	mustPostJSON(hc, base.JoinPath("/auth/logout").String(), login.AccessToken, map[string]string{
		"sessionId": login.Session.ID,
	}, http.StatusOK, nil)

	ev := mustReadUntilType(root, conn, "session.revoked", *timeout)
	var p struct {
		SessionID string `json:"sessionId"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		fatalf("unmarshal session.revoked: %v", err)
	}
	if p.SessionID != login.Session.ID || p.Reason != "logout" {
		fatalf("session.revoked mismatch: got session=%q reason=%q", p.SessionID, p.Reason)
	}

	fmt.Printf("OK: email=%s session=%s\n", email, login.Session.ID)
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func wsURL(base *url.URL, accessToken string) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"access_token": {accessToken}}.Encode()
	return u.String()
}

func mustPostJSON(hc *http.Client, target, bearer string, body any, wantStatus int, out any) {
	b, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(b))
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := hc.Do(req)
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var e struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		fatalf("POST %s: status=%d want=%d code=%q msg=%q", target, resp.StatusCode, wantStatus, e.Error.Code, e.Error.Message)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fatalf("decode %s: %v", target, err)
		}
	}
}

func mustConnect(parent context.Context, target, origin string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustReadUntilType(parent context.Context, conn *websocket.Conn, wantType string, stepTimeout time.Duration) envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			fatalf("waiting for %q: %v", wantType, err)
		}
		var env envelope
		if err := json.Unmarshal(b, &env); err != nil {
			fatalf("unmarshal envelope: %v", err)
		}
		switch env.Type {
		case wantType:
			return env
		case "error":
			fatalf("server error while waiting for %q: %s", wantType, string(env.Payload))
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, env envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
