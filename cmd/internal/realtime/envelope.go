package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the envelope version spoken on the medauth.notify.v1 subprotocol.
const Version = 1

// Envelope types.
const (
	TypeHelloAck     = "hello.ack"
	TypeNotification = "notification"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

// Envelope is the single frame shape on the socket in both directions.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the fields every inbound frame must carry.
func (e Envelope) Validate() error {
	if e.V != Version {
		return errors.New("unsupported version")
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing type")
	}
	return nil
}

// HelloAckPayload is sent once after the upgrade succeeds.
type HelloAckPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// ErrorPayload reports a rejected inbound frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) Envelope {
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      uuid.NewString(),
		TS:      ts,
		Payload: payload,
	}
}
