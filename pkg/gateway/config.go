package gateway

import (
	"net/http"
	"time"

	"github.com/Zert3x/spacebar-gateway/pkg/registry"
)

// SessionConfig holds per-session tuning.
type SessionConfig struct {
	// HeartbeatInterval is the interval advertised to clients in Hello.
	// Default: 45 seconds.
	HeartbeatInterval time.Duration

	// JitterTolerance scales the heartbeat interval into the deadline a
	// client must beat before being declared a zombie.
	// Default: 1.25.
	JitterTolerance float64

	// HandshakeTimeout is the maximum time between Hello and a valid
	// Identify or Resume. Default: 10 seconds.
	HandshakeTimeout time.Duration

	// ReadTimeout is the maximum time to wait for any inbound frame.
	// Default: twice the heartbeat deadline.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when writing a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// InboxCapacity bounds the per-session delivery queue.
	// Default: 256.
	InboxCapacity int

	// SaturationLimit is the number of consecutive overflowing enqueues
	// after which a session is deemed unhealthy and cancelled.
	// Default: 32.
	SaturationLimit int

	// ResumeWindow is how long a disconnected session remains resumable.
	// Default: 3 minutes.
	ResumeWindow time.Duration
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	interval := 45 * time.Second
	return &SessionConfig{
		HeartbeatInterval: interval,
		JitterTolerance:   1.25,
		HandshakeTimeout:  10 * time.Second,
		ReadTimeout:       2 * time.Duration(float64(interval)*1.25),
		WriteTimeout:      10 * time.Second,
		InboxCapacity:     256,
		SaturationLimit:   32,
		ResumeWindow:      3 * time.Minute,
	}
}

// HeartbeatDeadline is the interval scaled by the jitter tolerance; a
// session that goes this long without a heartbeat is a zombie.
func (c *SessionConfig) HeartbeatDeadline() time.Duration {
	tolerance := c.JitterTolerance
	if tolerance <= 0 {
		tolerance = 1.25
	}
	return time.Duration(float64(c.HeartbeatInterval) * tolerance)
}

// Clone returns a copy of the SessionConfig.
func (c *SessionConfig) Clone() *SessionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// withDefaults returns a copy with zero-valued fields filled from the
// defaults. ResumeWindow is left alone: zero disables resumption.
func (c *SessionConfig) withDefaults() *SessionConfig {
	def := DefaultSessionConfig()
	if c == nil {
		return def
	}
	out := c.Clone()
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = def.HeartbeatInterval
	}
	if out.JitterTolerance <= 0 {
		out.JitterTolerance = def.JitterTolerance
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = def.HandshakeTimeout
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * out.HeartbeatDeadline()
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = def.WriteTimeout
	}
	if out.InboxCapacity <= 0 {
		out.InboxCapacity = def.InboxCapacity
	}
	if out.SaturationLimit <= 0 {
		out.SaturationLimit = def.SaturationLimit
	}
	return out
}

// ServerConfig holds configuration for the gateway listener.
type ServerConfig struct {
	// Address is the address to listen on. Default: ":3003".
	Address string

	// ReadBufferSize is the WebSocket read buffer size. Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size. Default: 4096.
	WriteBufferSize int

	// CheckOrigin validates the request origin. Gateway connections are
	// token-authenticated, not cookie-authenticated, so the default
	// accepts any origin.
	CheckOrigin func(r *http.Request) bool

	// Session is the configuration applied to every session.
	Session *SessionConfig

	// Middlewares wrap every route, websocket upgrade included.
	Middlewares []func(http.Handler) http.Handler

	// BusMetrics instruments the publish path. Nil disables it.
	BusMetrics *registry.BusMetrics

	// ShutdownTimeout bounds graceful shutdown. Default: 30 seconds.
	ShutdownTimeout time.Duration

	// CleanupInterval is how often expired resumable sessions are pruned.
	// Default: 30 seconds.
	CleanupInterval time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:         ":3003",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
		Session:         DefaultSessionConfig(),
		ShutdownTimeout: 30 * time.Second,
		CleanupInterval: 30 * time.Second,
	}
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Session = c.Session.Clone()
	return &clone
}

// withDefaults returns a copy with zero-valued fields filled from the
// defaults, so a sparse config never leaves a timer or buffer at zero.
func (c *ServerConfig) withDefaults() *ServerConfig {
	def := DefaultServerConfig()
	if c == nil {
		return def
	}
	out := c.Clone()
	if out.Address == "" {
		out.Address = def.Address
	}
	if out.ReadBufferSize <= 0 {
		out.ReadBufferSize = def.ReadBufferSize
	}
	if out.WriteBufferSize <= 0 {
		out.WriteBufferSize = def.WriteBufferSize
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = def.CheckOrigin
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = def.ShutdownTimeout
	}
	if out.CleanupInterval <= 0 {
		out.CleanupInterval = def.CleanupInterval
	}
	out.Session = out.Session.withDefaults()
	return out
}
