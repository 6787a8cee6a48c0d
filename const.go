package toolrelay

import "time"

// CodeAlphabet is the base32 alphabet used for session codes (A-Z 2-7).
// Digits 0, 1, 8 and 9 are excluded to avoid glyph confusion.
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// CodeLength is the length of a session code (~40 bits of entropy).
const CodeLength = 8

const (
	// DefaultSessionTTL bounds the lifetime of a session record.
	DefaultSessionTTL = time.Hour

	// DefaultQueueTTL bounds the lifetime of request/response lists; refreshed on append.
	DefaultQueueTTL = time.Hour

	// DefaultHeartbeatInterval is the cadence of heartbeat events on an open stream.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultDrainInterval is the cadence at which an open stream drains the request list.
	DefaultDrainInterval = time.Second

	// DefaultStreamDeadline is the absolute lifetime of a single stream connection;
	// workers reconnect when it elapses.
	DefaultStreamDeadline = 10 * time.Minute

	// DefaultRateWindow is the sliding window of rate-limit counters.
	DefaultRateWindow = time.Minute
)

// Default per-window rate caps.
const (
	DefaultSessionRateLimit  = 30
	DefaultRequestRateLimit  = 60
	DefaultResponseRateLimit = 60
)

// Stream event names.
const (
	EventConnected   = "connected"
	EventHeartbeat   = "heartbeat"
	EventToolRequest = "tool-request"
	EventError       = "error"
	EventTimeout     = "timeout"
)
