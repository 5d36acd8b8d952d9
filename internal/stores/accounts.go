package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	accountPrefix        = "acct"
	accountPendingPrefix = "acct:pending"
)

var (
	ErrAccountRedisUnavailable = errors.New("account redis unavailable")
	ErrAccountRecordCorrupt    = errors.New("account record corrupt")
)

// AccountRecord is the durable per-username credential record. CredentialFile
// is the opaque artifact produced by the PAKE registration finish; the store
// never looks inside it.
type AccountRecord struct {
	Username               string `json:"username"`
	Mail                   string `json:"mail"`
	CredentialFile         []byte `json:"credential_file"`
	EmailVerificationToken string `json:"email_verification"`
}

// AccountMeta is the compact lifecycle sidecar kept next to every record.
// Field tags mirror the single-letter metadata keys of the original KV layout.
type AccountMeta struct {
	FormatVersion uint8 `json:"v"`
	EmailVerified bool  `json:"e"`
	Locked        bool  `json:"l"`
}

type accountEnvelope struct {
	Profile AccountRecord `json:"profile"`
	Meta    AccountMeta   `json:"meta"`
}

// AccountStore owns durable account records. Records live in the pending
// keyspace until their email is verified, then move to the confirmed keyspace;
// normal flow never deletes a confirmed record.
type AccountStore struct {
	redis redis.UniversalClient
}

// NewAccountStore returns a store backed by the given Redis client.
func NewAccountStore(redisClient redis.UniversalClient) *AccountStore {
	return &AccountStore{redis: redisClient}
}

func accountKey(username string) string        { return accountPrefix + ":" + username }
func accountPendingKey(username string) string { return accountPendingPrefix + ":" + username }

// Exists reports whether a confirmed (active or locked) record exists.
func (s *AccountStore) Exists(ctx context.Context, username string) (bool, error) {
	return s.keyExists(ctx, accountKey(username))
}

// ExistsPending reports whether a pending (unverified) record exists.
func (s *AccountStore) ExistsPending(ctx context.Context, username string) (bool, error) {
	return s.keyExists(ctx, accountPendingKey(username))
}

func (s *AccountStore) keyExists(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrAccountRedisUnavailable, err)
	}
	return n > 0, nil
}

// Save overwrites the record atomically. An unverified record lands in the
// pending keyspace; a verified one lands in the confirmed keyspace and clears
// any pending leftover, so confirmation is a move, not a copy.
func (s *AccountStore) Save(ctx context.Context, username string, record AccountRecord, meta AccountMeta) error {
	data, err := json.Marshal(accountEnvelope{Profile: record, Meta: meta})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccountRecordCorrupt, err)
	}

	if !meta.EmailVerified {
		if err := s.redis.Set(ctx, accountPendingKey(username), data, 0).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrAccountRedisUnavailable, err)
		}
		return nil
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, accountKey(username), data, 0)
		pipe.Del(ctx, accountPendingKey(username))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccountRedisUnavailable, err)
	}
	return nil
}

// Get returns the record and its lifecycle metadata, checking the confirmed
// keyspace first and falling back to pending. ok=false means no record in
// either phase.
func (s *AccountStore) Get(ctx context.Context, username string) (AccountRecord, AccountMeta, bool, error) {
	for _, key := range []string{accountKey(username), accountPendingKey(username)} {
		data, err := s.redis.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return AccountRecord{}, AccountMeta{}, false, fmt.Errorf("%w: %v", ErrAccountRedisUnavailable, err)
		}
		var env accountEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return AccountRecord{}, AccountMeta{}, false, fmt.Errorf("%w: %v", ErrAccountRecordCorrupt, err)
		}
		if env.Profile.Username != username {
			return AccountRecord{}, AccountMeta{}, false, fmt.Errorf("%w: username mismatch", ErrAccountRecordCorrupt)
		}
		return env.Profile, env.Meta, true, nil
	}
	return AccountRecord{}, AccountMeta{}, false, nil
}
