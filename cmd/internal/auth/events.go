package auth

import (
	"context"
	"time"
)

// EventSessionRevoked is published whenever a session row is deleted by the
// engine: logout, refresh reuse, failed refresh verification and password reset.
const EventSessionRevoked = "session.revoked"

// Event is a server-side notification about a user's sessions.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher receives engine events. Publish must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// NopPublisher drops events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
