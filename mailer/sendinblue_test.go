package mailer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendinblueSend(t *testing.T) {
	var got struct {
		apiKey      string
		contentType string
		body        sendRequest
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.apiKey = r.Header.Get("api-key")
		got.contentType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &got.body); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sender, err := NewSendinblue(Config{
		APIKey:         "secret-key",
		ConfirmBaseURL: "https://auth.example.com",
		SenderName:     "Auth",
		SenderMail:     "auth@example.com",
		APIURL:         srv.URL,
	})
	if err != nil {
		t.Fatalf("NewSendinblue failed: %v", err)
	}

	token, err := sender.Send(context.Background(), "alice", "alice@example.com")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil || len(raw) != tokenLen {
		t.Fatalf("token %q is not %d URL-safe base64 bytes: %v", token, tokenLen, err)
	}

	if got.apiKey != "secret-key" {
		t.Fatalf("api-key header %q", got.apiKey)
	}
	if got.contentType != "application/json" {
		t.Fatalf("content type %q", got.contentType)
	}
	if len(got.body.To) != 1 || got.body.To[0].Email != "alice@example.com" {
		t.Fatalf("recipient %+v", got.body.To)
	}

	wantLink := "https://auth.example.com/register/confirm/alice?k=" + token
	if !strings.Contains(got.body.TextContent, wantLink) {
		t.Fatalf("text content missing link %q: %q", wantLink, got.body.TextContent)
	}
	if !strings.Contains(got.body.HTMLContent, wantLink) {
		t.Fatal("html content missing confirmation link")
	}
}

func TestSendinblueAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	sender, err := NewSendinblue(Config{
		APIKey:         "bad-key",
		ConfirmBaseURL: "https://auth.example.com",
		APIURL:         srv.URL,
	})
	if err != nil {
		t.Fatalf("NewSendinblue failed: %v", err)
	}

	if _, err := sender.Send(context.Background(), "alice", "alice@example.com"); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
}

func TestSendinblueConfigValidation(t *testing.T) {
	if _, err := NewSendinblue(Config{ConfirmBaseURL: "https://x.example.com"}); err == nil {
		t.Fatal("expected failure without api key")
	}
	if _, err := NewSendinblue(Config{APIKey: "k"}); err == nil {
		t.Fatal("expected failure without confirm base url")
	}
}

func TestMemorySender(t *testing.T) {
	sender := NewMemorySender()

	token, err := sender.Send(context.Background(), "alice", "alice@example.com")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if sender.LastToken() != token {
		t.Fatal("LastToken does not match issued token")
	}

	deliveries := sender.Deliveries()
	if len(deliveries) != 1 || deliveries[0].Username != "alice" {
		t.Fatalf("deliveries %+v", deliveries)
	}

	sender.FailNext = true
	if _, err := sender.Send(context.Background(), "bob", "bob@example.com"); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
	// Failure flag is one-shot.
	if _, err := sender.Send(context.Background(), "bob", "bob@example.com"); err != nil {
		t.Fatalf("second Send failed: %v", err)
	}
}
