package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/cretz/gopaque/gopaque"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	opaqueauth "github.com/tomvardasca/opaque-authd"
	"github.com/tomvardasca/opaque-authd/mailer"
	"github.com/tomvardasca/opaque-authd/opaque"
)

func newTestServer(t *testing.T) (*Server, *mailer.MemorySender, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := opaqueauth.DefaultConfig()
	cfg.Throttle = opaqueauth.ThrottleConfig{}

	sender := mailer.NewMemorySender()
	engine, err := opaqueauth.New().
		WithConfig(cfg).
		WithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})).
		WithServerKey(opaque.NewKeyPair()).
		WithMailer(sender).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return NewServer(engine), sender, mr
}

func postJSON(t *testing.T, app *fiber.App, path string, payload any) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()
	return string(data)
}

func decodeBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()

	raw, err := base64.StdEncoding.DecodeString(readBody(t, resp))
	if err != nil {
		t.Fatalf("body is not base64: %v", err)
	}
	return raw
}

// registerOverHTTP drives a full registration through the HTTP surface.
func registerOverHTTP(t *testing.T, app *fiber.App, username, mail, password string) {
	t.Helper()

	user := gopaque.NewUserRegister(gopaque.CryptoDefault, []byte(username), nil)
	initBytes, err := user.Init([]byte(password)).ToBytes()
	if err != nil {
		t.Fatalf("marshal register init: %v", err)
	}

	resp := postJSON(t, app, "/register/start", map[string]string{
		"username": username,
		"mail":     mail,
		"request":  base64.StdEncoding.EncodeToString(initBytes),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register/start status %d: %s", resp.StatusCode, readBody(t, resp))
	}

	var serverInit gopaque.ServerRegisterInit
	if err := serverInit.FromBytes(gopaque.CryptoDefault, decodeBody(t, resp)); err != nil {
		t.Fatalf("unmarshal register response: %v", err)
	}
	completeBytes, err := user.Complete(&serverInit).ToBytes()
	if err != nil {
		t.Fatalf("marshal register complete: %v", err)
	}

	resp = postJSON(t, app, "/register/end", map[string]string{
		"username": username,
		"mail":     mail,
		"request":  base64.StdEncoding.EncodeToString(completeBytes),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register/end status %d: %s", resp.StatusCode, readBody(t, resp))
	}
}

func confirmOverHTTP(t *testing.T, app *fiber.App, sender *mailer.MemorySender, username string) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/register/confirm/"+username+"?k="+sender.LastToken(), nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm status %d: %s", resp.StatusCode, readBody(t, resp))
	}
}

// loginOverHTTP drives a full login and returns the final response.
func loginOverHTTP(t *testing.T, app *fiber.App, username, password string) *http.Response {
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

	resp := postJSON(t, app, "/login/start", map[string]string{
		"username": username,
		"request":  base64.StdEncoding.EncodeToString(initBytes),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login/start status %d: %s", resp.StatusCode, readBody(t, resp))
	}

	var serverComplete gopaque.ServerAuthComplete
	if err := serverComplete.FromBytes(gopaque.CryptoDefault, decodeBody(t, resp)); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}
	_, complete, err := user.Complete(&serverComplete)
	if err != nil {
		t.Fatalf("user rejected login response: %v", err)
	}
	completeBytes, err := complete.ToBytes()
	if err != nil {
		t.Fatalf("marshal auth complete: %v", err)
	}

	return postJSON(t, app, "/login/end", map[string]string{
		"username": username,
		"request":  base64.StdEncoding.EncodeToString(completeBytes),
	})
}

func TestFullFlowOverHTTP(t *testing.T) {
	server, sender, _ := newTestServer(t)
	app := server.App()

	registerOverHTTP(t, app, "alice", "alice@example.com", "correct password")
	confirmOverHTTP(t, app, sender, "alice")

	resp := loginOverHTTP(t, app, "alice", "correct password")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login/end status %d: %s", resp.StatusCode, readBody(t, resp))
	}
	if key := decodeBody(t, resp); len(key) == 0 {
		t.Fatal("expected session key in response")
	}
}

func TestRegisterStartFieldErrors(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := postJSON(t, server.App(), "/register/start", map[string]string{
		"username": "Not Valid!",
		"mail":     "not-a-mail",
		"request":  "also not base64!!!",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var body validationErrors
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("body is not the field-error shape: %v", err)
	}
	resp.Body.Close()

	if body.Message != "Some field(s) have invalid data" {
		t.Fatalf("message %q", body.Message)
	}
	for _, field := range []string{"username", "mail", "request"} {
		if body.Fields[field] == "" {
			t.Errorf("missing field error for %q", field)
		}
	}
}

func TestDuplicateRegistration(t *testing.T) {
	server, sender, _ := newTestServer(t)
	app := server.App()

	registerOverHTTP(t, app, "alice", "alice@example.com", "pw pw pw")

	user := gopaque.NewUserRegister(gopaque.CryptoDefault, []byte("alice"), nil)
	initBytes, err := user.Init([]byte("pw pw pw")).ToBytes()
	if err != nil {
		t.Fatalf("marshal register init: %v", err)
	}
	payload := map[string]string{
		"username": "alice",
		"mail":     "alice@example.com",
		"request":  base64.StdEncoding.EncodeToString(initBytes),
	}

	resp := postJSON(t, app, "/register/start", payload)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "User already registered, missing confirming email" {
		t.Fatalf("body %q", body)
	}

	confirmOverHTTP(t, app, sender, "alice")

	resp = postJSON(t, app, "/register/start", payload)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "User already registered" {
		t.Fatalf("body %q", body)
	}
}

func TestLoginLifecycleStatuses(t *testing.T) {
	server, sender, _ := newTestServer(t)
	app := server.App()

	registerOverHTTP(t, app, "alice", "alice@example.com", "some password")

	// Unverified mail gates login finish with a 403.
	resp := loginOverHTTP(t, app, "alice", "some password")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d, want 403", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "Email not verified" {
		t.Fatalf("body %q", body)
	}

	confirmOverHTTP(t, app, sender, "alice")
	resp = loginOverHTTP(t, app, "alice", "some password")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d after confirmation: %s", resp.StatusCode, readBody(t, resp))
	}
}

func TestLoginFinishWithoutState(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := postJSON(t, server.App(), "/login/end", map[string]string{
		"username": "alice",
		"request":  base64.StdEncoding.EncodeToString(make([]byte, 32)),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "No login state" {
		t.Fatalf("body %q", body)
	}
}

func TestConfirmStatuses(t *testing.T) {
	server, sender, _ := newTestServer(t)
	app := server.App()

	registerOverHTTP(t, app, "alice", "alice@example.com", "some password")
	token := sender.LastToken()

	confirmOverHTTP(t, app, sender, "alice")

	// Second click on the same link is a benign 200.
	req := httptest.NewRequest(http.MethodGet, "/register/confirm/alice?k="+token, nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "Email already verified" {
		t.Fatalf("body %q", body)
	}

	// Unknown username is a plain 400.
	req = httptest.NewRequest(http.MethodGet, "/register/confirm/ghost?k="+token, nil)
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "Username does not exist") {
		t.Fatalf("body %q", body)
	}
}

func TestThrottledLoginStart(t *testing.T) {
	mrCfgServer := func() (*fiber.App, *mailer.MemorySender) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis.Run failed: %v", err)
		}
		t.Cleanup(mr.Close)

		cfg := opaqueauth.DefaultConfig()
		sender := mailer.NewMemorySender()
		engine, err := opaqueauth.New().
			WithConfig(cfg).
			WithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})).
			WithServerKey(opaque.NewKeyPair()).
			WithMailer(sender).
			Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		t.Cleanup(engine.Close)
		return NewServer(engine).App(), sender
	}
	app, _ := mrCfgServer()

	user := gopaque.NewUserAuth(gopaque.CryptoDefault, []byte("alice"), gopaque.NewKeyExchangeSigma(gopaque.CryptoDefault))
	userInit, err := user.Init([]byte("pw"))
	if err != nil {
		t.Fatalf("auth init: %v", err)
	}
	initBytes, err := userInit.ToBytes()
	if err != nil {
		t.Fatalf("marshal auth init: %v", err)
	}
	payload := map[string]string{
		"username": "alice",
		"request":  base64.StdEncoding.EncodeToString(initBytes),
	}

	resp := postJSON(t, app, "/login/start", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first start status %d: %s", resp.StatusCode, readBody(t, resp))
	}

	resp = postJSON(t, app, "/login/start", payload)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("second start status %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "Too many login retries" {
		t.Fatalf("body %q", body)
	}
}
