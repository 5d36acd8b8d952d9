package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const handshakeRecordVersionV1 = 1

const (
	registrationStatePrefix = "hs:reg"
	loginStatePrefix        = "hs:login"
	// loginSessionPrefix is intentionally identical to loginStatePrefix: the
	// session write reuses the login-state slot, so the session-attempt check
	// observes whichever record was written last. Changing it changes the
	// login throttle semantics.
	loginSessionPrefix = "hs:login"
)

var (
	ErrHandshakeRedisUnavailable = errors.New("handshake redis unavailable")
	ErrHandshakeRecordCorrupt    = errors.New("handshake record corrupt")
)

// Flow selects which handshake keyspace a record lives in.
type Flow uint8

const (
	FlowRegistration Flow = iota
	FlowLogin
)

func (f Flow) prefix() string {
	if f == FlowRegistration {
		return registrationStatePrefix
	}
	return loginStatePrefix
}

// String returns the flow name for logs and audit events.
func (f Flow) String() string {
	if f == FlowRegistration {
		return "registration"
	}
	return "login"
}

// HandshakeStore keeps in-flight protocol state between the two round trips of
// a registration or login exchange. One live record per (flow, username); a
// new Put replaces any prior record, which both invalidates the old handshake
// and resets the rate-limit clock.
type HandshakeStore struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

// NewHandshakeStore returns a store whose records expire ttl after each Put.
func NewHandshakeStore(redisClient redis.UniversalClient, ttl time.Duration) *HandshakeStore {
	return &HandshakeStore{redis: redisClient, ttl: ttl}
}

func stateKey(flow Flow, username string) string {
	return flow.prefix() + ":" + username
}

func sessionKey(username string) string {
	return loginSessionPrefix + ":" + username
}

// Put writes the payload with the current time as creation timestamp,
// replacing any prior record for the pair and arming the absolute expiry.
func (s *HandshakeStore) Put(ctx context.Context, flow Flow, username string, payload []byte) error {
	encoded, err := encodeHandshakeRecord(time.Now(), payload)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, stateKey(flow, username), encoded, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeRedisUnavailable, err)
	}
	return nil
}

// Get returns the live payload, or ok=false once the record expired or never
// existed.
func (s *HandshakeStore) Get(ctx context.Context, flow Flow, username string) ([]byte, bool, error) {
	return fetchPayload(s.redis.Get(ctx, stateKey(flow, username)))
}

// Take returns the live payload and deletes it in the same Redis command.
// Two concurrent Takes race; exactly one observes the record.
func (s *HandshakeStore) Take(ctx context.Context, flow Flow, username string) ([]byte, bool, error) {
	return fetchPayload(s.redis.GetDel(ctx, stateKey(flow, username)))
}

// Age returns how long ago the live record for the pair was written. This is
// the only primitive the rate limiter needs: a record with a small age means
// an attempt is outstanding or was made too recently.
func (s *HandshakeStore) Age(ctx context.Context, flow Flow, username string) (time.Duration, bool, error) {
	createdAt, _, ok, err := fetchRecord(s.redis.Get(ctx, stateKey(flow, username)))
	if err != nil || !ok {
		return 0, false, err
	}
	return time.Since(createdAt), true, nil
}

// PutSession persists the session key issued at login finish. No TTL: session
// lifecycle is owned by the caller's collaborators.
func (s *HandshakeStore) PutSession(ctx context.Context, username string, key []byte) error {
	encoded, err := encodeHandshakeRecord(time.Now(), key)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, sessionKey(username), encoded, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeRedisUnavailable, err)
	}
	return nil
}

// GetSession returns the stored session key for the username, if any.
func (s *HandshakeStore) GetSession(ctx context.Context, username string) ([]byte, bool, error) {
	return fetchPayload(s.redis.Get(ctx, sessionKey(username)))
}

// RemoveSession deletes the stored session key. Removing a missing session is
// not an error.
func (s *HandshakeStore) RemoveSession(ctx context.Context, username string) error {
	if err := s.redis.Del(ctx, sessionKey(username)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeRedisUnavailable, err)
	}
	return nil
}

// SessionAge mirrors Age for the session record.
func (s *HandshakeStore) SessionAge(ctx context.Context, username string) (time.Duration, bool, error) {
	createdAt, _, ok, err := fetchRecord(s.redis.Get(ctx, sessionKey(username)))
	if err != nil || !ok {
		return 0, false, err
	}
	return time.Since(createdAt), true, nil
}

func fetchPayload(cmd *redis.StringCmd) ([]byte, bool, error) {
	_, payload, ok, err := fetchRecord(cmd)
	return payload, ok, err
}

func fetchRecord(cmd *redis.StringCmd) (time.Time, []byte, bool, error) {
	data, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil, false, nil
		}
		return time.Time{}, nil, false, fmt.Errorf("%w: %v", ErrHandshakeRedisUnavailable, err)
	}
	createdAt, payload, err := decodeHandshakeRecord(data)
	if err != nil {
		return time.Time{}, nil, false, err
	}
	return createdAt, payload, true, nil
}

func encodeHandshakeRecord(createdAt time.Time, payload []byte) ([]byte, error) {
	if len(payload) > 65535 {
		return nil, fmt.Errorf("%w: payload too large", ErrHandshakeRecordCorrupt)
	}
	var buf bytes.Buffer
	buf.WriteByte(handshakeRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, createdAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(payload))); err != nil {
		return nil, err
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

func decodeHandshakeRecord(data []byte) (time.Time, []byte, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil || version != handshakeRecordVersionV1 {
		return time.Time{}, nil, ErrHandshakeRecordCorrupt
	}
	var createdMilli int64
	if err := binary.Read(r, binary.BigEndian, &createdMilli); err != nil {
		return time.Time{}, nil, ErrHandshakeRecordCorrupt
	}
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return time.Time{}, nil, ErrHandshakeRecordCorrupt
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return time.Time{}, nil, ErrHandshakeRecordCorrupt
	}
	if r.Len() != 0 {
		return time.Time{}, nil, ErrHandshakeRecordCorrupt
	}
	return time.UnixMilli(createdMilli), payload, nil
}
