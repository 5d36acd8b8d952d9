package mailer

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultAPIURL = "https://api.sendinblue.com/v3/smtp/email"

	// tokenLen is the raw byte length of a minted verification token.
	tokenLen = 32
)

// ErrSendFailed is returned when the mail API rejects the request or cannot
// be reached.
var ErrSendFailed = errors.New("mailer: send failed")

// Config holds Sendinblue sender configuration.
type Config struct {
	// APIKey authenticates against the transactional mail API. Required.
	APIKey string
	// ConfirmBaseURL is the externally reachable base of the confirmation
	// endpoint, e.g. "https://auth.example.com". Required.
	ConfirmBaseURL string
	// SenderName and SenderMail identify the From address.
	SenderName string
	SenderMail string

	APIURL string

	HTTPClient *http.Client
}

// Sendinblue sends confirmation mail through the Sendinblue HTTP API.
type Sendinblue struct {
	config     Config
	httpClient *http.Client
}

type mailAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type sendRequest struct {
	Sender      mailAddress   `json:"sender"`
	To          []mailAddress `json:"to"`
	Subject     string        `json:"subject"`
	TextContent string        `json:"textContent"`
	HTMLContent string        `json:"htmlContent"`
}

// NewSendinblue creates the production sender.
func NewSendinblue(cfg Config) (*Sendinblue, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("mailer: api key required")
	}
	if cfg.ConfirmBaseURL == "" {
		return nil, errors.New("mailer: confirm base url required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Sendinblue{
		config:     cfg,
		httpClient: client,
	}, nil
}

// Send mints a fresh verification token, mails the confirmation link for it,
// and returns the token for the caller to persist.
func (s *Sendinblue) Send(ctx context.Context, username, mail string) (string, error) {
	token, err := MintToken()
	if err != nil {
		return "", err
	}

	link := fmt.Sprintf("%s/register/confirm/%s?k=%s", s.config.ConfirmBaseURL, username, token)

	payload := sendRequest{
		Sender:      mailAddress{Name: s.config.SenderName, Email: s.config.SenderMail},
		To:          []mailAddress{{Email: mail}},
		Subject:     "Login Email confirmation",
		TextContent: "Please confirm your email address by clicking on the link " + link,
		HTMLContent: fmt.Sprintf(
			"<!DOCTYPE html> <html> <body> <h1>Confirm you email</h1> <p>Please confirm your email address by clicking on the link below</p> <a href=%q>%s</a> </body> </html>",
			link, link,
		),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrSendFailed, resp.StatusCode)
	}

	return token, nil
}

// MintToken returns a fresh URL-safe base64 verification token.
func MintToken() (string, error) {
	raw := make([]byte, tokenLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}
