// Package token issues and validates short-lived provisioning tokens for
// the web forms that collect mailbox credentials.
package token

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Purposes a token can be issued for.
const (
	PurposeAddAccount    = "add_account"
	PurposeResetPassword = "reset_password"
)

// DefaultTTL is the lifetime of a token when none is configured.
const DefaultTTL = 30 * time.Minute

// Data describes an issued token.
type Data struct {
	Token     string
	Purpose   string
	ChatID    int64
	UserID    int64
	AccountID int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Store holds tokens in memory. Tokens do not survive a restart, which is
// acceptable: the chat flow that hands them out can always mint a new one.
type Store struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	tokens map[string]Data
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:    ttl,
		now:    time.Now,
		tokens: make(map[string]Data),
	}
}

// IssueAddAccount mints a token that authorizes registering a new mailbox
// for the given chat.
func (s *Store) IssueAddAccount(chatID, userID int64) Data {
	return s.issue(Data{
		Purpose: PurposeAddAccount,
		ChatID:  chatID,
		UserID:  userID,
	})
}

// IssueResetPassword mints a token that authorizes replacing the stored
// password of one account.
func (s *Store) IssueResetPassword(chatID, userID, accountID int64) Data {
	return s.issue(Data{
		Purpose:   PurposeResetPassword,
		ChatID:    chatID,
		UserID:    userID,
		AccountID: accountID,
	})
}

func (s *Store) issue(d Data) Data {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked()

	now := s.now()
	d.Token = uuid.NewString()
	d.IssuedAt = now
	d.ExpiresAt = now.Add(s.ttl)
	s.tokens[d.Token] = d
	return d
}

// Validate looks up a live token for the given purpose. It does not consume
// the token: the web flow validates on page load and again on submit, and
// only invalidates after the whole operation succeeds. Expired tokens are
// removed on sight; a purpose mismatch leaves the token alone.
func (s *Store) Validate(tok, purpose string) (Data, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.tokens[tok]
	if !ok {
		return Data{}, false
	}
	if !s.now().Before(d.ExpiresAt) {
		delete(s.tokens, tok)
		return Data{}, false
	}
	if d.Purpose != purpose {
		return Data{}, false
	}
	return d, true
}

// Invalidate removes a token. Unknown tokens are a no-op.
func (s *Store) Invalidate(tok string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tok)
}

func (s *Store) purgeExpiredLocked() {
	now := s.now()
	for tok, d := range s.tokens {
		if !now.Before(d.ExpiresAt) {
			delete(s.tokens, tok)
		}
	}
}
