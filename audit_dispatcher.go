package opaqueauth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	auditEventRegisterStart    = "register_start"
	auditEventRegisterFinish   = "register_finish"
	auditEventRegisterConfirm  = "register_confirm"
	auditEventLoginStart       = "login_start"
	auditEventLoginFinish      = "login_finish"
	auditEventSessionRemoved   = "session_removed"
	auditEventThrottleHit      = "throttle_hit"
	auditEventDummyCredential  = "dummy_credential_served"
	auditEventMailDispatched   = "confirmation_mail_dispatched"
	auditEventStateExpiredTake = "handshake_state_missing"
)

// AuditErrorCode is the stable error label attached to failed audit events.
type AuditErrorCode string

const (
	auditErrValidation     AuditErrorCode = "validation"
	auditErrDuplicate      AuditErrorCode = "duplicate"
	auditErrPending        AuditErrorCode = "registration_pending"
	auditErrThrottled      AuditErrorCode = "throttled"
	auditErrNoState        AuditErrorCode = "no_handshake_state"
	auditErrUnknownAccount AuditErrorCode = "unknown_account"
	auditErrUnverified     AuditErrorCode = "email_unverified"
	auditErrLocked         AuditErrorCode = "account_locked"
	auditErrTokenMismatch  AuditErrorCode = "token_mismatch"
	auditErrVerified       AuditErrorCode = "already_verified"
	auditErrEngine         AuditErrorCode = "engine_failure"
	auditErrUnavailable    AuditErrorCode = "backend_unavailable"
	auditErrCorrupt        AuditErrorCode = "record_corrupt"
	auditErrMailer         AuditErrorCode = "mailer_unavailable"
	auditErrInternal       AuditErrorCode = "internal_error"
)

// auditDispatcher moves events from the request path onto the sink without
// blocking handshake latency on sink speed.
type auditDispatcher struct {
	cfg       AuditConfig
	sink      AuditSink
	ch        chan AuditEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan AuditEvent, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close drains buffered events into the sink and stops the worker.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	flow string,
	username string,
	success bool,
	err error,
	metadata map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Username:  username,
		Flow:      flow,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrAlreadyRegistered):
		return auditErrDuplicate
	case errors.Is(err, ErrRegistrationPending):
		return auditErrPending
	case errors.Is(err, ErrThrottled):
		return auditErrThrottled
	case errors.Is(err, ErrNoHandshakeState):
		return auditErrNoState
	case errors.Is(err, ErrUnknownAccount):
		return auditErrUnknownAccount
	case errors.Is(err, ErrEmailUnverified):
		return auditErrUnverified
	case errors.Is(err, ErrAccountLocked):
		return auditErrLocked
	case errors.Is(err, ErrTokenMismatch):
		return auditErrTokenMismatch
	case errors.Is(err, ErrAlreadyVerified):
		return auditErrVerified
	case errors.Is(err, ErrEngineFailure):
		return auditErrEngine
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrRecordCorrupt):
		return auditErrCorrupt
	case errors.Is(err, ErrMailerUnavailable):
		return auditErrMailer
	default:
		return auditErrInternal
	}
}
