package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background sweep interval. Expired sessions are also rejected lazily on
// lookup, so the sweep only bounds memory; a tight interval is safe.
const CleanupJobInterval = time.Minute

// Websocket protocol limits
const (
	AuthGracePeriod = 5 * time.Second
	MaxFrameBytes   = 64 * 1024
	MaxChatLength   = 10000

	// Clients ping every 60s; connections silent for twice that are
	// considered dead and closed by the liveness sweep.
	ClientPingInterval    = 60 * time.Second
	ConnectionIdleTimeout = 2 * ClientPingInterval
)

// Per-identity inbound message rate limit
const (
	MessageRateLimit      = 120
	MessageRateWindow     = time.Minute
	RateLimitEntryTTL     = 5 * time.Minute
	InternalAPIRatePerMin = 600
)
