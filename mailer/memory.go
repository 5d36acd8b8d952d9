package mailer

import (
	"context"
	"sync"
)

// Delivery records one mail the MemorySender accepted.
type Delivery struct {
	Username string
	Mail     string
	Token    string
}

// MemorySender mints real tokens but keeps deliveries in memory instead of
// sending anything. Safe for concurrent use.
type MemorySender struct {
	mu         sync.Mutex
	deliveries []Delivery

	// FailNext makes the next Send fail with ErrSendFailed.
	FailNext bool
}

// NewMemorySender creates an empty in-memory sender.
func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

func (s *MemorySender) Send(_ context.Context, username, mail string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNext {
		s.FailNext = false
		return "", ErrSendFailed
	}

	token, err := MintToken()
	if err != nil {
		return "", err
	}
	s.deliveries = append(s.deliveries, Delivery{Username: username, Mail: mail, Token: token})
	return token, nil
}

// Deliveries returns a copy of everything accepted so far.
func (s *MemorySender) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

// LastToken returns the token of the most recent delivery, or "".
func (s *MemorySender) LastToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.deliveries) == 0 {
		return ""
	}
	return s.deliveries[len(s.deliveries)-1].Token
}
