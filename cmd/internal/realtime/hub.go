package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"medauth/cmd/internal/auth"
)

// Hub tracks connected clients per user and fans notifications out to them.
// It satisfies auth.Publisher so engine events reach the user's sockets.
type Hub struct {
	log *slog.Logger
	now func() time.Time

	mu    sync.RWMutex
	users map[string]map[string]*Client
}

var _ auth.Publisher = (*Hub)(nil)

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		users: make(map[string]map[string]*Client),
	}
}

// Attach registers c under its user. A user may hold several connections.
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.users[c.UserID]
	if !ok {
		set = make(map[string]*Client)
		h.users[c.UserID] = set
	}
	set[c.ID] = c
}

// Detach removes c. It must run before c.Close.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.users[c.UserID]
	if !ok {
		return
	}
	delete(set, c.ID)
	if len(set) == 0 {
		delete(h.users, c.UserID)
	}
}

// Connected returns the number of open connections for userID.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Users returns the number of users with at least one open connection.
func (h *Hub) Users() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

// Notify sends payload as a typed envelope to every connection of userID and
// returns how many accepted it. Slow clients with full queues are skipped.
func (h *Hub) Notify(userID, typ string, payload any) int {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("realtime.notify.marshal", "type", typ, "err", err)
		return 0
	}
	env := newEnvelope(typ, raw, h.now())

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.users[userID]))
	for _, c := range h.users[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.offer(env) {
			delivered++
			continue
		}
		h.log.Warn("realtime.notify.drop", "user_id", userID, "conn_id", c.ID, "type", typ)
	}
	return delivered
}

// Publish forwards an engine event to the user's connections.
func (h *Hub) Publish(ctx context.Context, ev auth.Event) {
	n := h.Notify(ev.UserID, ev.Type, ev)
	h.log.DebugContext(ctx, "realtime.publish", "type", ev.Type, "user_id", ev.UserID, "delivered", n)
}
