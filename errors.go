package opaqueauth

import (
	"errors"
	"fmt"

	"github.com/tomvardasca/opaque-authd/internal/rate"
	"github.com/tomvardasca/opaque-authd/internal/stores"
)

var (
	// ErrValidation is returned when a username, mail address, or client
	// protocol message fails syntactic validation. Always client-correctable.
	ErrValidation = errors.New("invalid request field")
	// ErrAlreadyRegistered is returned when the username has a confirmed account.
	ErrAlreadyRegistered = errors.New("user already registered")
	// ErrRegistrationPending is returned when the username has a registered
	// account still waiting for email confirmation.
	ErrRegistrationPending = errors.New("user already registered, missing confirming email")
	// ErrThrottled is returned while an attempt falls inside a rate-limit window.
	ErrThrottled = errors.New("too many attempts")
	// ErrNoHandshakeState is returned when a finish call has no live start
	// state, either because start never ran or because the state expired.
	ErrNoHandshakeState = errors.New("no handshake state")
	// ErrUnknownAccount is returned when a login finish or confirmation names
	// a username with no account record.
	ErrUnknownAccount = errors.New("username does not exist")
	// ErrEmailUnverified is returned when login is attempted against an
	// account that never confirmed its mail address.
	ErrEmailUnverified = errors.New("email not verified")
	// ErrAccountLocked is returned for administratively locked accounts.
	ErrAccountLocked = errors.New("account locked")
	// ErrTokenMismatch is returned when a confirmation token does not match
	// the minted one.
	ErrTokenMismatch = errors.New("verification token mismatch")
	// ErrAlreadyVerified is returned by re-confirmation of a verified account.
	// Soft failure: callers should surface it as a benign outcome.
	ErrAlreadyVerified = errors.New("email already verified")
	// ErrEngineFailure is returned when the PAKE primitive rejects the
	// exchange. Never distinguished further to the client.
	ErrEngineFailure = errors.New("protocol exchange failed")
	// ErrStoreUnavailable is returned for storage I/O failures.
	ErrStoreUnavailable = errors.New("storage unavailable")
	// ErrRecordCorrupt is returned when stored data has the wrong version or shape.
	ErrRecordCorrupt = errors.New("stored record corrupt")
	// ErrMailerUnavailable is returned when the confirmation mail cannot be sent.
	ErrMailerUnavailable = errors.New("mail transport unavailable")
	// ErrEngineNotReady is returned when the engine is used before Build
	// wired its dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// mapStoreError translates store- and limiter-level sentinels into the public
// taxonomy. Anything unrecognized passes through unchanged.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrHandshakeRedisUnavailable),
		errors.Is(err, stores.ErrAccountRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	case errors.Is(err, stores.ErrHandshakeRecordCorrupt),
		errors.Is(err, stores.ErrAccountRecordCorrupt):
		return fmt.Errorf("%w: %v", ErrRecordCorrupt, err)
	case errors.Is(err, rate.ErrRateLimited):
		return ErrThrottled
	}
	return err
}
