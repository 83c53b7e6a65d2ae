package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read. Clients only send small control frames.
	maxFrameBytes = 4 << 10 // 4 KiB
)

const (
	// Heartbeat defaults (overridable via MEDAUTH_WS_HEARTBEAT_*).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (inbound frames per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
