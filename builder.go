package opaqueauth

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/tomvardasca/opaque-authd/internal/rate"
	"github.com/tomvardasca/opaque-authd/internal/stores"
	"github.com/tomvardasca/opaque-authd/opaque"
)

// Builder assembles an Engine. A builder is single-use; Build fails on the
// second call.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	serverKey *opaque.KeyPair
	mailer    Mailer
	auditSink AuditSink

	built bool
}

// New returns a builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the builder's configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing both the handshake and account
// stores.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithServerKey sets the authority's long-term key pair. Every deployment
// must pin the same key pair across restarts or existing credential files
// become unusable.
func (b *Builder) WithServerKey(key *opaque.KeyPair) *Builder {
	b.serverKey = key
	return b
}

// WithMailer sets the confirmation-mail sender.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink sets the sink receiving audit events. Ignored when auditing
// is disabled in the config.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles counter collection.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.serverKey == nil {
		return nil, errors.New("server key pair required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	states := stores.NewHandshakeStore(b.redis, cfg.Handshake.StateTTL)

	engine := &Engine{
		config:   cfg,
		accounts: stores.NewAccountStore(b.redis),
		states:   states,
		limiter: rate.New(states, rate.Config{
			RegistrationWindow: cfg.Throttle.RegistrationWindow,
			LoginWindow:        cfg.Throttle.LoginWindow,
			SessionWindow:      cfg.Throttle.SessionWindow,
		}),
		pake:    opaque.NewEngine(b.serverKey),
		mailer:  b.mailer,
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
	}

	b.built = true
	return engine, nil
}
