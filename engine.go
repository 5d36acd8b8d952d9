// Package opaqueauth implements a server-side credential authority on top of
// the OPAQUE password-authenticated key exchange: two-message registration and
// login handshakes sequenced across independent HTTP round trips, with
// TTL-bounded handshake state, attempt throttling, an email-confirmation
// account lifecycle, and an enumeration-resistant login path.
//
// The cryptographic exchange itself lives in the opaque subpackage; durable
// and ephemeral records live in internal/stores; throttle policy lives in
// internal/rate. This package is the orchestration layer tying them together.
package opaqueauth

import (
	"context"

	"github.com/tomvardasca/opaque-authd/internal/rate"
	"github.com/tomvardasca/opaque-authd/internal/stores"
	"github.com/tomvardasca/opaque-authd/opaque"
)

// Mailer delivers the confirmation mail for a pending registration. Send
// mints the verification token, delivers it, and returns the minted token for
// persistence alongside the account record.
type Mailer interface {
	Send(ctx context.Context, username, mail string) (token string, err error)
}

// Engine orchestrates the registration, login, and email-confirmation flows.
// Build one with New; it is safe for concurrent use.
type Engine struct {
	config   Config
	accounts *stores.AccountStore
	states   *stores.HandshakeStore
	limiter  *rate.Limiter
	pake     *opaque.Engine
	mailer   Mailer
	audit    *auditDispatcher
	metrics  *Metrics
}

// Close drains and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// Session returns the raw session key stored for the username at its last
// successful login, if any.
func (e *Engine) Session(ctx context.Context, username string) ([]byte, bool, error) {
	if e == nil || e.states == nil {
		return nil, false, ErrEngineNotReady
	}
	if !ValidUsername(username) {
		return nil, false, ErrValidation
	}
	key, ok, err := e.states.GetSession(ctx, username)
	if err != nil {
		return nil, false, mapStoreError(err)
	}
	return key, ok, nil
}

// RemoveSession discards the stored session key for the username.
func (e *Engine) RemoveSession(ctx context.Context, username string) error {
	if e == nil || e.states == nil {
		return ErrEngineNotReady
	}
	if !ValidUsername(username) {
		return ErrValidation
	}
	if err := e.states.RemoveSession(ctx, username); err != nil {
		return mapStoreError(err)
	}
	e.metricInc(MetricSessionRemoved)
	e.emitAudit(ctx, auditEventSessionRemoved, "", username, true, nil, nil)
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}
