package opaqueauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomvardasca/opaque-authd/internal/stores"
	"github.com/tomvardasca/opaque-authd/opaque"
)

// RegisterStart opens a registration handshake. The client message is the
// user's blinded password element; the response carries the server's OPRF
// answer and public key and must be fed back through RegisterFinish within
// the handshake TTL.
//
// A confirmed account or a pending one for the same username rejects the
// attempt before any throttle or protocol work.
func (e *Engine) RegisterStart(ctx context.Context, username, mail string, clientMessage []byte) ([]byte, error) {
	if e == nil || e.pake == nil {
		return nil, ErrEngineNotReady
	}
	if !ValidUsername(username) || !ValidMail(mail) || !ValidClientMessage(clientMessage) {
		return nil, e.failRegistration(ctx, auditEventRegisterStart, username, MetricRegisterStartFailure, ErrValidation)
	}

	if err := e.checkRegistrationConflict(ctx, username); err != nil {
		return nil, e.failRegistration(ctx, auditEventRegisterStart, username, MetricRegisterStartFailure, err)
	}

	if err := e.limiter.CheckRegistration(ctx, username); err != nil {
		return nil, e.failRegistration(ctx, auditEventRegisterStart, username, MetricRegisterStartFailure, mapStoreError(err))
	}

	state, response, err := e.pake.RegistrationStart(clientMessage)
	if err != nil {
		return nil, e.failRegistration(ctx, auditEventRegisterStart, username, MetricRegisterStartFailure, fmt.Errorf("%w: %v", ErrEngineFailure, err))
	}

	if err := e.states.Put(ctx, stores.FlowRegistration, username, state); err != nil {
		return nil, e.failRegistration(ctx, auditEventRegisterStart, username, MetricRegisterStartFailure, mapStoreError(err))
	}

	e.metricInc(MetricRegisterStartSuccess)
	e.emitAudit(ctx, auditEventRegisterStart, stores.FlowRegistration.String(), username, true, nil, nil)
	return response, nil
}

// RegisterFinish closes the handshake opened by RegisterStart: it consumes
// the stored state, seals the client's envelope into a credential file,
// dispatches the confirmation mail, and persists the account in the pending
// keyspace. The account stays unusable for login until the mailed token is
// presented to ConfirmEmail.
//
// The handshake state is consumed even when a later step fails; the client
// restarts from RegisterStart.
func (e *Engine) RegisterFinish(ctx context.Context, username, mail string, clientMessage []byte) error {
	if e == nil || e.pake == nil {
		return ErrEngineNotReady
	}
	if !ValidUsername(username) || !ValidMail(mail) || !ValidClientMessage(clientMessage) {
		return e.failRegistration(ctx, auditEventRegisterFinish, username, MetricRegisterFinishFailure, ErrValidation)
	}

	// Re-checked here: a concurrent registration may have completed between
	// the two handshake messages.
	if err := e.checkRegistrationConflict(ctx, username); err != nil {
		return e.failRegistration(ctx, auditEventRegisterFinish, username, MetricRegisterFinishFailure, err)
	}

	state, ok, err := e.states.Take(ctx, stores.FlowRegistration, username)
	if err != nil {
		return e.failRegistration(ctx, auditEventRegisterFinish, username, MetricRegisterFinishFailure, mapStoreError(err))
	}
	if !ok {
		e.emitAudit(ctx, auditEventStateExpiredTake, stores.FlowRegistration.String(), username, false, ErrNoHandshakeState, nil)
		return e.failRegistration(ctx, auditEventRegisterFinish, username, MetricRegisterFinishFailure, ErrNoHandshakeState)
	}

	credentialFile, err := e.pake.RegistrationFinish(state, clientMessage)
	if err != nil {
		return e.failRegistration(ctx, auditEventRegisterFinish, username, MetricRegisterFinishFailure, fmt.Errorf("%w: %v", ErrEngineFailure, err))
	}

	token, err := e.mailer.Send(ctx, username, mail)
	if err != nil {
		return e.failRegistration(ctx, auditEventRegisterFinish, username, MetricRegisterFinishFailure, fmt.Errorf("%w: %v", ErrMailerUnavailable, err))
	}
	e.metricInc(MetricMailDispatched)
	e.emitAudit(ctx, auditEventMailDispatched, stores.FlowRegistration.String(), username, true, nil, nil)

	record := stores.AccountRecord{
		Username:               username,
		Mail:                   mail,
		CredentialFile:         credentialFile,
		EmailVerificationToken: token,
	}
	meta := stores.AccountMeta{
		FormatVersion: opaque.CredentialFormatV0,
		EmailVerified: false,
		Locked:        false,
	}
	if err := e.accounts.Save(ctx, username, record, meta); err != nil {
		return e.failRegistration(ctx, auditEventRegisterFinish, username, MetricRegisterFinishFailure, mapStoreError(err))
	}

	e.metricInc(MetricRegisterFinishSuccess)
	e.emitAudit(ctx, auditEventRegisterFinish, stores.FlowRegistration.String(), username, true, nil, nil)
	return nil
}

func (e *Engine) checkRegistrationConflict(ctx context.Context, username string) error {
	exists, err := e.accounts.Exists(ctx, username)
	if err != nil {
		return mapStoreError(err)
	}
	if exists {
		return ErrAlreadyRegistered
	}

	pending, err := e.accounts.ExistsPending(ctx, username)
	if err != nil {
		return mapStoreError(err)
	}
	if pending {
		return ErrRegistrationPending
	}
	return nil
}

func (e *Engine) failRegistration(ctx context.Context, event, username string, metric MetricID, err error) error {
	e.metricInc(metric)
	if errors.Is(err, ErrThrottled) {
		e.metricInc(MetricThrottleHit)
		e.emitAudit(ctx, auditEventThrottleHit, stores.FlowRegistration.String(), username, false, err, nil)
	}
	e.emitAudit(ctx, event, stores.FlowRegistration.String(), username, false, err, nil)
	return err
}
