package opaqueauth

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/cretz/gopaque/gopaque"
	"github.com/redis/go-redis/v9"

	"github.com/tomvardasca/opaque-authd/internal/stores"
	"github.com/tomvardasca/opaque-authd/mailer"
	"github.com/tomvardasca/opaque-authd/opaque"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

// testConfig disables the throttle windows so flows can run back to back;
// tests exercising the limiter set their own windows.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Throttle = ThrottleConfig{}
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *mailer.MemorySender, *miniredis.Miniredis) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	sender := mailer.NewMemorySender()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithServerKey(opaque.NewKeyPair()).
		WithMailer(sender).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, sender, mr
}

// buildWithSink wires an engine around the given audit sink.
func buildWithSink(t *testing.T, sink AuditSink) *Engine {
	t.Helper()

	_, rdb := newTestRedis(t)
	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithServerKey(opaque.NewKeyPair()).
		WithMailer(mailer.NewMemorySender()).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return engine
}

// registerInit returns the user-side registration session and its first
// message bytes.
func registerInit(t *testing.T, username, password string) (*gopaque.UserRegister, []byte) {
	t.Helper()

	user := gopaque.NewUserRegister(gopaque.CryptoDefault, []byte(username), nil)
	initBytes, err := user.Init([]byte(password)).ToBytes()
	if err != nil {
		t.Fatalf("marshal register init: %v", err)
	}
	return user, initBytes
}

func registerComplete(t *testing.T, user *gopaque.UserRegister, response []byte) []byte {
	t.Helper()

	var serverInit gopaque.ServerRegisterInit
	if err := serverInit.FromBytes(gopaque.CryptoDefault, response); err != nil {
		t.Fatalf("unmarshal register response: %v", err)
	}
	completeBytes, err := user.Complete(&serverInit).ToBytes()
	if err != nil {
		t.Fatalf("marshal register complete: %v", err)
	}
	return completeBytes
}

func authInit(t *testing.T, username, password string) (*gopaque.UserAuth, []byte) {
	t.Helper()

	user := gopaque.NewUserAuth(gopaque.CryptoDefault, []byte(username), gopaque.NewKeyExchangeSigma(gopaque.CryptoDefault))
	userInit, err := user.Init([]byte(password))
	if err != nil {
		t.Fatalf("auth init: %v", err)
	}
	initBytes, err := userInit.ToBytes()
	if err != nil {
		t.Fatalf("marshal auth init: %v", err)
	}
	return user, initBytes
}

func authComplete(t *testing.T, user *gopaque.UserAuth, response []byte) ([]byte, error) {
	t.Helper()

	var serverComplete gopaque.ServerAuthComplete
	if err := serverComplete.FromBytes(gopaque.CryptoDefault, response); err != nil {
		t.Fatalf("unmarshal auth response: %v", err)
	}
	_, complete, err := user.Complete(&serverComplete)
	if err != nil {
		return nil, err
	}
	completeBytes, err := complete.ToBytes()
	if err != nil {
		t.Fatalf("marshal auth complete: %v", err)
	}
	return completeBytes, nil
}

// registerUser drives a full registration through the engine.
func registerUser(t *testing.T, e *Engine, username, mail, password string) {
	t.Helper()
	ctx := context.Background()

	user, initBytes := registerInit(t, username, password)
	response, err := e.RegisterStart(ctx, username, mail, initBytes)
	if err != nil {
		t.Fatalf("RegisterStart failed: %v", err)
	}
	if err := e.RegisterFinish(ctx, username, mail, registerComplete(t, user, response)); err != nil {
		t.Fatalf("RegisterFinish failed: %v", err)
	}
}

// confirmUser confirms the most recently mailed token for the username.
func confirmUser(t *testing.T, e *Engine, sender *mailer.MemorySender, username string) {
	t.Helper()

	token := sender.LastToken()
	if token == "" {
		t.Fatal("no confirmation mail recorded")
	}
	if err := e.ConfirmEmail(context.Background(), username, token); err != nil {
		t.Fatalf("ConfirmEmail failed: %v", err)
	}
}

// loginUser drives a full login through the engine and returns the session key.
func loginUser(t *testing.T, e *Engine, username, password string) ([]byte, error) {
	t.Helper()
	ctx := context.Background()

	user, initBytes := authInit(t, username, password)
	response, err := e.LoginStart(ctx, username, initBytes)
	if err != nil {
		return nil, err
	}
	completeBytes, err := authComplete(t, user, response)
	if err != nil {
		return nil, err
	}
	return e.LoginFinish(ctx, username, completeBytes)
}

// lockAccount flips the lock flag directly in the account store.
func lockAccount(t *testing.T, mr *miniredis.Miniredis, username string) {
	t.Helper()
	ctx := context.Background()

	accounts := stores.NewAccountStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	record, meta, ok, err := accounts.Get(ctx, username)
	if err != nil || !ok {
		t.Fatalf("account lookup for lock: ok=%v err=%v", ok, err)
	}
	meta.Locked = true
	if err := accounts.Save(ctx, username, record, meta); err != nil {
		t.Fatalf("lock save failed: %v", err)
	}
}
