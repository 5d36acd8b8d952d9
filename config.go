package opaqueauth

import (
	"errors"
	"time"
)

// Config defines the tunable policy of the engine. Construct it with
// DefaultConfig and adjust; Build validates it.
type Config struct {
	Handshake HandshakeConfig
	Throttle  ThrottleConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
HANDSHAKE CONFIG
====================================
*/

// HandshakeConfig bounds the lifetime of in-flight protocol state.
type HandshakeConfig struct {
	// StateTTL is the absolute expiry armed on every handshake record. After
	// it elapses the record is unreadable regardless of any age check.
	StateTTL time.Duration
}

/*
====================================
THROTTLE CONFIG
====================================
*/

// ThrottleConfig holds the per-flow anti-hammering windows. Each window must
// be no longer than the handshake TTL: the handshake record is the throttle
// ledger, so an expired record cannot throttle anything.
type ThrottleConfig struct {
	RegistrationWindow time.Duration
	LoginWindow        time.Duration
	// SessionWindow guards session issuance itself. Note the session record
	// shares its storage slot with the login handshake state, so this window
	// is measured against whichever of the two was written last.
	SessionWindow time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the request path when the
	// buffer is full. Dropped events are counted.
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the production defaults: 60 s handshake TTL, 15 s
// registration window, 5 s login and session windows, audit and metrics on.
func DefaultConfig() Config {
	return Config{
		Handshake: HandshakeConfig{
			StateTTL: 60 * time.Second,
		},
		Throttle: ThrottleConfig{
			RegistrationWindow: 15 * time.Second,
			LoginWindow:        5 * time.Second,
			SessionWindow:      5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations that would silently disable guarantees.
func (c Config) Validate() error {
	if c.Handshake.StateTTL <= 0 {
		return errors.New("config: handshake state ttl must be positive")
	}
	for _, w := range []time.Duration{c.Throttle.RegistrationWindow, c.Throttle.LoginWindow, c.Throttle.SessionWindow} {
		if w < 0 {
			return errors.New("config: throttle windows must not be negative")
		}
		if w > c.Handshake.StateTTL {
			return errors.New("config: throttle window exceeds handshake state ttl")
		}
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 0 {
		return errors.New("config: audit buffer size must not be negative")
	}
	return nil
}
