package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/mailgram-io/mailgram/internal/models"
	"github.com/mailgram-io/mailgram/internal/token"
	"github.com/mailgram-io/mailgram/internal/watch"
)

type fakeProvisioner struct {
	created   []*models.EmailAccount
	removed   []int64
	passwords map[int64]string
	createErr error
	nextID    int64
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{passwords: make(map[int64]string), nextID: 10}
}

func (f *fakeProvisioner) Create(_ context.Context, account *models.EmailAccount, password string) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	account.ID = f.nextID
	f.created = append(f.created, account)
	f.passwords[f.nextID] = password
	return f.nextID, nil
}

func (f *fakeProvisioner) Get(_ context.Context, id int64) (*models.EmailAccount, error) {
	for _, acc := range f.created {
		if acc.ID == id {
			return acc, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeProvisioner) UpdatePassword(_ context.Context, id int64, password string) error {
	f.passwords[id] = password
	return nil
}

func (f *fakeProvisioner) Remove(_ context.Context, id int64) error {
	f.removed = append(f.removed, id)
	return nil
}

type fakeConnector struct {
	connectErr    error
	connected     []int64
	disconnected  []int64
	states        map[int64]watch.State
	failAccountID int64
}

func (f *fakeConnector) Connect(_ context.Context, id int64) error {
	if f.connectErr != nil && (f.failAccountID == 0 || f.failAccountID == id) {
		return f.connectErr
	}
	f.connected = append(f.connected, id)
	return nil
}

func (f *fakeConnector) Disconnect(_ context.Context, id int64) error {
	f.disconnected = append(f.disconnected, id)
	return nil
}

func (f *fakeConnector) States() map[int64]watch.State { return f.states }

type fakeNotifier struct {
	successes []string
	failures  []string
	chatIDs   []int64
}

func (f *fakeNotifier) NotifySuccess(_ context.Context, chatID int64, text string) {
	f.chatIDs = append(f.chatIDs, chatID)
	f.successes = append(f.successes, text)
}

func (f *fakeNotifier) NotifyError(_ context.Context, chatID int64, text string) {
	f.chatIDs = append(f.chatIDs, chatID)
	f.failures = append(f.failures, text)
}

type fixture struct {
	router      *gin.Engine
	provisioner *fakeProvisioner
	connector   *fakeConnector
	notifier    *fakeNotifier
	tokens      *token.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		provisioner: newFakeProvisioner(),
		connector:   &fakeConnector{states: map[int64]watch.State{}},
		notifier:    &fakeNotifier{},
		tokens:      token.NewStore(30 * time.Minute),
	}
	handler := NewHandler(f.provisioner, f.connector, f.notifier, f.tokens, "mailgram")
	f.router = gin.New()
	handler.Register(f.router)
	return f
}

func (f *fixture) postJSON(t *testing.T, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestStatusReportsSessionCounts(t *testing.T) {
	f := newFixture(t)
	f.connector.states = map[int64]watch.State{
		1: watch.StateSubscribed,
		2: watch.StateSubscribed,
		3: watch.StateFaulted,
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sessions map[string]int `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Sessions["subscribed"])
	require.Equal(t, 1, body.Sessions["faulted"])
}

func TestValidateTokenEndpoints(t *testing.T) {
	f := newFixture(t)
	issued := f.tokens.IssueAddAccount(42, 9)

	req := httptest.NewRequest(http.MethodGet, "/api/email/validate-token?token="+issued.Token, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Same token under the reset purpose must be rejected.
	req = httptest.NewRequest(http.MethodGet, "/api/email/validate-reset-token?token="+issued.Token, nil)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Validation did not consume the token.
	_, ok := f.tokens.Validate(issued.Token, token.PurposeAddAccount)
	require.True(t, ok)
}

func TestValidateResetTokenReturnsAccount(t *testing.T) {
	f := newFixture(t)
	f.provisioner.created = append(f.provisioner.created, &models.EmailAccount{ID: 5, EmailAddress: "user@example.org"})
	issued := f.tokens.IssueResetPassword(42, 9, 5)

	req := httptest.NewRequest(http.MethodGet, "/api/email/validate-reset-token?token="+issued.Token, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		AccountID int64  `json:"accountId"`
		Email     string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(5), body.AccountID)
	require.Equal(t, "user@example.org", body.Email)
}

func TestAddAccountSuccess(t *testing.T) {
	f := newFixture(t)
	issued := f.tokens.IssueAddAccount(42, 9)

	rec := f.postJSON(t, "/api/email/add", gin.H{
		"token":    issued.Token,
		"email":    "user@example.org",
		"password": "secret",
		"imapHost": "imap.example.org",
		"imapPort": 993,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.provisioner.created, 1)
	require.Equal(t, int64(42), f.provisioner.created[0].ChatID)
	require.True(t, f.provisioner.created[0].UseTLS)
	require.Len(t, f.connector.connected, 1)
	require.Len(t, f.notifier.successes, 1)

	// Token consumed on success.
	_, ok := f.tokens.Validate(issued.Token, token.PurposeAddAccount)
	require.False(t, ok)
}

func TestAddAccountConnectFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.connector.connectErr = errors.New("auth failed")
	issued := f.tokens.IssueAddAccount(42, 9)

	rec := f.postJSON(t, "/api/email/add", gin.H{
		"token":    issued.Token,
		"email":    "user@example.org",
		"password": "wrong",
		"imapHost": "imap.example.org",
		"imapPort": 993,
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, f.provisioner.removed, 1)
	require.Len(t, f.notifier.failures, 1)

	// Token survives a failed attempt so the user can retry.
	_, ok := f.tokens.Validate(issued.Token, token.PurposeAddAccount)
	require.True(t, ok)
}

func TestAddAccountRejectsBadToken(t *testing.T) {
	f := newFixture(t)

	rec := f.postJSON(t, "/api/email/add", gin.H{
		"token":    "nope",
		"email":    "user@example.org",
		"password": "secret",
		"imapHost": "imap.example.org",
		"imapPort": 993,
	})

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, f.provisioner.created)
}

func TestResetPasswordSuccess(t *testing.T) {
	f := newFixture(t)
	issued := f.tokens.IssueResetPassword(42, 9, 5)

	rec := f.postJSON(t, "/api/email/reset-password", gin.H{
		"token":    issued.Token,
		"password": "new-secret",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "new-secret", f.provisioner.passwords[5])
	require.Equal(t, []int64{5}, f.connector.disconnected)
	require.Equal(t, []int64{5}, f.connector.connected)

	_, ok := f.tokens.Validate(issued.Token, token.PurposeResetPassword)
	require.False(t, ok)
}

func TestResetPasswordConnectFailureKeepsPasswordAndToken(t *testing.T) {
	f := newFixture(t)
	f.connector.connectErr = errors.New("auth failed")
	issued := f.tokens.IssueResetPassword(42, 9, 5)

	rec := f.postJSON(t, "/api/email/reset-password", gin.H{
		"token":    issued.Token,
		"password": "new-secret",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "new-secret", f.provisioner.passwords[5])
	require.Len(t, f.notifier.failures, 1)

	_, ok := f.tokens.Validate(issued.Token, token.PurposeResetPassword)
	require.True(t, ok)
}
