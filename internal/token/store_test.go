package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(ttl time.Duration) (*Store, *time.Time) {
	s := NewStore(ttl)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestIssueAndValidate(t *testing.T) {
	s, _ := newTestStore(30 * time.Minute)

	issued := s.IssueAddAccount(42, 9)
	require.NotEmpty(t, issued.Token)
	require.Equal(t, PurposeAddAccount, issued.Purpose)
	require.Equal(t, issued.IssuedAt.Add(30*time.Minute), issued.ExpiresAt)

	got, ok := s.Validate(issued.Token, PurposeAddAccount)
	require.True(t, ok)
	require.Equal(t, int64(42), got.ChatID)
	require.Equal(t, int64(9), got.UserID)
}

func TestValidateDoesNotConsume(t *testing.T) {
	s, _ := newTestStore(30 * time.Minute)
	issued := s.IssueAddAccount(42, 9)

	_, ok := s.Validate(issued.Token, PurposeAddAccount)
	require.True(t, ok)
	_, ok = s.Validate(issued.Token, PurposeAddAccount)
	require.True(t, ok)
}

func TestValidatePurposeMismatch(t *testing.T) {
	s, _ := newTestStore(30 * time.Minute)
	issued := s.IssueResetPassword(42, 9, 3)

	_, ok := s.Validate(issued.Token, PurposeAddAccount)
	require.False(t, ok)

	// The token is still live under its real purpose.
	got, ok := s.Validate(issued.Token, PurposeResetPassword)
	require.True(t, ok)
	require.Equal(t, int64(3), got.AccountID)
}

func TestValidateExpiredRemovesToken(t *testing.T) {
	s, now := newTestStore(30 * time.Minute)
	issued := s.IssueAddAccount(42, 9)

	*now = now.Add(31 * time.Minute)
	_, ok := s.Validate(issued.Token, PurposeAddAccount)
	require.False(t, ok)

	// Even rolling the clock back cannot resurrect it.
	*now = now.Add(-31 * time.Minute)
	_, ok = s.Validate(issued.Token, PurposeAddAccount)
	require.False(t, ok)
}

func TestInvalidateIsIdempotent(t *testing.T) {
	s, _ := newTestStore(30 * time.Minute)
	issued := s.IssueAddAccount(42, 9)

	s.Invalidate(issued.Token)
	s.Invalidate(issued.Token)
	_, ok := s.Validate(issued.Token, PurposeAddAccount)
	require.False(t, ok)
}

func TestIssuePurgesExpired(t *testing.T) {
	s, now := newTestStore(10 * time.Minute)
	stale := s.IssueAddAccount(42, 9)

	*now = now.Add(11 * time.Minute)
	fresh := s.IssueAddAccount(42, 9)

	s.mu.Lock()
	_, staleLives := s.tokens[stale.Token]
	_, freshLives := s.tokens[fresh.Token]
	s.mu.Unlock()
	require.False(t, staleLives)
	require.True(t, freshLives)
}

func TestZeroTTLFallsBackToDefault(t *testing.T) {
	s := NewStore(0)
	require.Equal(t, DefaultTTL, s.ttl)
}
