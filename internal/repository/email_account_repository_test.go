package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/mailgram-io/mailgram/internal/models"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newMockRepo(t *testing.T) (*EmailAccountRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewEmailAccountRepository(sqlx.NewDb(db, "sqlmock"))
	repo.now = func() time.Time { return testTime }
	return repo, mock
}

func accountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "chat_id", "email_address", "password_encrypted",
		"imap_host", "imap_port", "use_tls", "spam_folder", "is_active",
		"created_at", "updated_at",
	})
}

func TestCreateAssignsID(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO email_accounts").
		WithArgs(int64(9), int64(42), "user@example.org", "sealed",
			"imap.example.org", 993, true, nil, true, testTime, testTime).
		WillReturnResult(sqlmock.NewResult(7, 1))

	acc := &models.EmailAccount{
		UserID:            9,
		ChatID:            42,
		EmailAddress:      "user@example.org",
		PasswordEncrypted: "sealed",
		IMAPHost:          "imap.example.org",
		IMAPPort:          993,
		UseTLS:            true,
		IsActive:          true,
	}
	id, err := repo.Create(context.Background(), acc)
	require.NoError(t, err)
	require.Equal(t, int64(7), id)
	require.Equal(t, int64(7), acc.ID)
	require.Equal(t, testTime, acc.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM email_accounts WHERE id").
		WithArgs(int64(99)).
		WillReturnRows(accountRows())

	_, err := repo.GetByID(context.Background(), 99)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDScansAccount(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := accountRows().AddRow(
		int64(3), int64(9), int64(42), "user@example.org", "sealed",
		"imap.example.org", 993, true, "Spam", true, testTime, testTime,
	)
	mock.ExpectQuery("SELECT (.+) FROM email_accounts WHERE id").
		WithArgs(int64(3)).
		WillReturnRows(rows)

	acc, err := repo.GetByID(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, "user@example.org", acc.EmailAddress)
	require.Equal(t, "Spam", acc.SpamFolderName())
	require.True(t, acc.UseTLS)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveFiltersByFlag(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := accountRows().
		AddRow(int64(1), int64(9), int64(42), "a@example.org", "s", "h", 993, true, nil, true, testTime, testTime).
		AddRow(int64(2), int64(9), int64(43), "b@example.org", "s", "h", 993, true, nil, true, testTime, testTime)
	mock.ExpectQuery("SELECT (.+) FROM email_accounts WHERE is_active = TRUE").
		WillReturnRows(rows)

	accounts, err := repo.GetActive(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePasswordMissingAccount(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE email_accounts SET password_encrypted").
		WithArgs("new-sealed", testTime, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdatePassword(context.Background(), 5, "new-sealed")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetActiveAndDelete(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE email_accounts SET is_active").
		WithArgs(false, testTime, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM email_accounts WHERE id").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetActive(context.Background(), 5, false))
	require.NoError(t, repo.Delete(context.Background(), 5))
	require.NoError(t, mock.ExpectationsWereMet())
}
