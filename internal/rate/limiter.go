package rate

import (
	"context"
	"errors"
	"time"

	"github.com/tomvardasca/opaque-authd/internal/stores"
)

var (
	// ErrRateLimited is returned when an attempt falls inside a throttle window.
	ErrRateLimited = errors.New("rate limited")
)

// Config holds the per-flow throttle windows.
type Config struct {
	RegistrationWindow time.Duration
	LoginWindow        time.Duration
	SessionWindow      time.Duration
}

// Limiter answers "is this username currently throttled for flow X" by
// reading handshake record ages. It never writes.
type Limiter struct {
	states *stores.HandshakeStore
	config Config
}

// New creates a Limiter over the given handshake store.
func New(states *stores.HandshakeStore, cfg Config) *Limiter {
	return &Limiter{states: states, config: cfg}
}

// CheckRegistration returns ErrRateLimited while a registration handshake
// younger than the registration window is outstanding for the username.
func (l *Limiter) CheckRegistration(ctx context.Context, username string) error {
	return l.checkAge(func() (time.Duration, bool, error) {
		return l.states.Age(ctx, stores.FlowRegistration, username)
	}, l.config.RegistrationWindow)
}

// CheckLogin returns ErrRateLimited while either a login handshake younger
// than the login window or a session record younger than the session window
// exists for the username. The two reads may observe the same underlying
// record; see the handshake store's key layout.
func (l *Limiter) CheckLogin(ctx context.Context, username string) error {
	if err := l.checkAge(func() (time.Duration, bool, error) {
		return l.states.Age(ctx, stores.FlowLogin, username)
	}, l.config.LoginWindow); err != nil {
		return err
	}
	return l.checkAge(func() (time.Duration, bool, error) {
		return l.states.SessionAge(ctx, username)
	}, l.config.SessionWindow)
}

func (l *Limiter) checkAge(age func() (time.Duration, bool, error), window time.Duration) error {
	if window <= 0 {
		return nil
	}
	elapsed, ok, err := age()
	if err != nil {
		return err
	}
	if ok && elapsed < window {
		return ErrRateLimited
	}
	return nil
}
