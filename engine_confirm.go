package opaqueauth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"

	"github.com/tomvardasca/opaque-authd/internal/stores"
)

// verificationTokenLen is the decoded length of a minted confirmation token.
const verificationTokenLen = 32

// ConfirmEmail activates a pending account when the presented token matches
// the one minted at registration. Re-confirming an already verified account
// returns ErrAlreadyVerified, which callers should treat as a benign outcome
// rather than a rejection. A locked account cannot be confirmed.
func (e *Engine) ConfirmEmail(ctx context.Context, username, token string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if !ValidUsername(username) || !validToken(token) {
		return e.failConfirm(ctx, username, ErrValidation)
	}

	record, meta, found, err := e.accounts.Get(ctx, username)
	if err != nil {
		return e.failConfirm(ctx, username, mapStoreError(err))
	}
	if !found {
		return e.failConfirm(ctx, username, ErrUnknownAccount)
	}
	if meta.EmailVerified {
		return e.failConfirm(ctx, username, ErrAlreadyVerified)
	}
	if meta.Locked {
		return e.failConfirm(ctx, username, ErrAccountLocked)
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(record.EmailVerificationToken)) != 1 {
		return e.failConfirm(ctx, username, ErrTokenMismatch)
	}

	meta.EmailVerified = true
	if err := e.accounts.Save(ctx, username, record, meta); err != nil {
		return e.failConfirm(ctx, username, mapStoreError(err))
	}

	e.metricInc(MetricConfirmSuccess)
	e.emitAudit(ctx, auditEventRegisterConfirm, stores.FlowRegistration.String(), username, true, nil, nil)
	return nil
}

// validToken accepts exactly the shape the mailer mints: URL-safe base64 of
// verificationTokenLen random bytes.
func validToken(token string) bool {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	return len(raw) == verificationTokenLen
}

func (e *Engine) failConfirm(ctx context.Context, username string, err error) error {
	e.metricInc(MetricConfirmFailure)
	e.emitAudit(ctx, auditEventRegisterConfirm, stores.FlowRegistration.String(), username, false, err, nil)
	return err
}
