package opaqueauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomvardasca/opaque-authd/internal/stores"
	"github.com/tomvardasca/opaque-authd/opaque"
)

// LoginStart opens a login handshake. For an unknown username the exchange
// runs against a freshly registered decoy credential instead of failing, so
// the response is byte-for-byte the same shape as for a real account and the
// wire leaks nothing about account existence. Account lifecycle checks are
// deferred to LoginFinish for the same reason.
func (e *Engine) LoginStart(ctx context.Context, username string, clientMessage []byte) ([]byte, error) {
	if e == nil || e.pake == nil {
		return nil, ErrEngineNotReady
	}
	if !ValidUsername(username) || !ValidClientMessage(clientMessage) {
		return nil, e.failLogin(ctx, auditEventLoginStart, username, MetricLoginStartFailure, ErrValidation)
	}

	if err := e.limiter.CheckLogin(ctx, username); err != nil {
		return nil, e.failLogin(ctx, auditEventLoginStart, username, MetricLoginStartFailure, mapStoreError(err))
	}

	// The decoy is built before the account lookup on every attempt, known
	// and unknown alike, to keep the two paths doing the same work.
	credentialFile, err := e.pake.DummyCredential(username)
	if err != nil {
		return nil, e.failLogin(ctx, auditEventLoginStart, username, MetricLoginStartFailure, fmt.Errorf("%w: %v", ErrEngineFailure, err))
	}
	formatVersion := uint8(opaque.CredentialFormatV0)

	record, meta, found, err := e.accounts.Get(ctx, username)
	if err != nil {
		return nil, e.failLogin(ctx, auditEventLoginStart, username, MetricLoginStartFailure, mapStoreError(err))
	}
	if found {
		credentialFile = record.CredentialFile
		formatVersion = meta.FormatVersion
	} else {
		e.metricInc(MetricDummyCredentialServed)
		e.emitAudit(ctx, auditEventDummyCredential, stores.FlowLogin.String(), username, true, nil, nil)
	}

	state, response, err := e.pake.LoginStart(credentialFile, clientMessage, username, formatVersion)
	if err != nil {
		return nil, e.failLogin(ctx, auditEventLoginStart, username, MetricLoginStartFailure, fmt.Errorf("%w: %v", ErrEngineFailure, err))
	}

	if err := e.states.Put(ctx, stores.FlowLogin, username, state); err != nil {
		return nil, e.failLogin(ctx, auditEventLoginStart, username, MetricLoginStartFailure, mapStoreError(err))
	}

	e.metricInc(MetricLoginStartSuccess)
	e.emitAudit(ctx, auditEventLoginStart, stores.FlowLogin.String(), username, true, nil, nil)
	return response, nil
}

// LoginFinish closes the handshake opened by LoginStart and returns the raw
// session key on success. The handshake state is consumed first, before any
// account check, so a failed attempt always costs the caller a fresh
// LoginStart; lifecycle rejections surface in a fixed order: unknown account,
// unverified mail, locked account, and only then the key-exchange proof.
func (e *Engine) LoginFinish(ctx context.Context, username string, clientMessage []byte) ([]byte, error) {
	if e == nil || e.pake == nil {
		return nil, ErrEngineNotReady
	}
	if !ValidUsername(username) || !ValidClientMessage(clientMessage) {
		return nil, e.failLogin(ctx, auditEventLoginFinish, username, MetricLoginFinishFailure, ErrValidation)
	}

	state, ok, err := e.states.Take(ctx, stores.FlowLogin, username)
	if err != nil {
		return nil, e.failLogin(ctx, auditEventLoginFinish, username, MetricLoginFinishFailure, mapStoreError(err))
	}
	if !ok {
		e.emitAudit(ctx, auditEventStateExpiredTake, stores.FlowLogin.String(), username, false, ErrNoHandshakeState, nil)
		return nil, e.failLogin(ctx, auditEventLoginFinish, username, MetricLoginFinishFailure, ErrNoHandshakeState)
	}

	_, meta, found, err := e.accounts.Get(ctx, username)
	if err != nil {
		return nil, e.failLogin(ctx, auditEventLoginFinish, username, MetricLoginFinishFailure, mapStoreError(err))
	}
	if !found {
		return nil, e.failLogin(ctx, auditEventLoginFinish, username, MetricLoginFinishFailure, ErrUnknownAccount)
	}
	if !meta.EmailVerified {
		return nil, e.failLogin(ctx, auditEventLoginFinish, username, MetricLoginFinishFailure, ErrEmailUnverified)
	}
	if meta.Locked {
		return nil, e.failLogin(ctx, auditEventLoginFinish, username, MetricLoginFinishFailure, ErrAccountLocked)
	}

	sessionKey, err := e.pake.LoginFinish(state, clientMessage)
	if err != nil {
		return nil, e.failLogin(ctx, auditEventLoginFinish, username, MetricLoginFinishFailure, fmt.Errorf("%w: %v", ErrEngineFailure, err))
	}

	if err := e.states.PutSession(ctx, username, sessionKey); err != nil {
		return nil, e.failLogin(ctx, auditEventLoginFinish, username, MetricLoginFinishFailure, mapStoreError(err))
	}

	e.metricInc(MetricLoginFinishSuccess)
	e.metricInc(MetricSessionIssued)
	e.emitAudit(ctx, auditEventLoginFinish, stores.FlowLogin.String(), username, true, nil, nil)
	return sessionKey, nil
}

func (e *Engine) failLogin(ctx context.Context, event, username string, metric MetricID, err error) error {
	e.metricInc(metric)
	if errors.Is(err, ErrThrottled) {
		e.metricInc(MetricThrottleHit)
		e.emitAudit(ctx, auditEventThrottleHit, stores.FlowLogin.String(), username, false, err, nil)
	}
	e.emitAudit(ctx, event, stores.FlowLogin.String(), username, false, err, nil)
	return err
}
