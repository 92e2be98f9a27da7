package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mailgram-io/mailgram/internal/models"
)

// ErrNotFound is returned when a lookup matches no account.
var ErrNotFound = errors.New("email account not found")

const accountColumns = `id, user_id, chat_id, email_address, password_encrypted,
	imap_host, imap_port, use_tls, spam_folder, is_active, created_at, updated_at`

// EmailAccountRepository persists watched mailbox accounts.
type EmailAccountRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewEmailAccountRepository(db *sqlx.DB) *EmailAccountRepository {
	return &EmailAccountRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *EmailAccountRepository) Create(ctx context.Context, account *models.EmailAccount) (int64, error) {
	now := r.now()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := r.db.Rebind(`
		INSERT INTO email_accounts (
			user_id, chat_id, email_address, password_encrypted,
			imap_host, imap_port, use_tls, spam_folder, is_active,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	args := []any{
		account.UserID,
		account.ChatID,
		account.EmailAddress,
		account.PasswordEncrypted,
		account.IMAPHost,
		account.IMAPPort,
		account.UseTLS,
		account.SpamFolder,
		account.IsActive,
		account.CreatedAt,
		account.UpdatedAt,
	}

	if r.db.DriverName() == "postgres" {
		var id int64
		if err := r.db.QueryRowxContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to create email account: %w", err)
		}
		account.ID = id
		return id, nil
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to create email account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read created account id: %w", err)
	}
	account.ID = id
	return id, nil
}

func (r *EmailAccountRepository) GetByID(ctx context.Context, id int64) (*models.EmailAccount, error) {
	query := r.db.Rebind(`SELECT ` + accountColumns + ` FROM email_accounts WHERE id = ?`)

	account := &models.EmailAccount{}
	err := r.db.GetContext(ctx, account, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email account: %w", err)
	}
	return account, nil
}

func (r *EmailAccountRepository) GetByChatID(ctx context.Context, chatID int64) ([]models.EmailAccount, error) {
	query := r.db.Rebind(`SELECT ` + accountColumns + ` FROM email_accounts WHERE chat_id = ? ORDER BY email_address`)

	var accounts []models.EmailAccount
	if err := r.db.SelectContext(ctx, &accounts, query, chatID); err != nil {
		return nil, fmt.Errorf("failed to list accounts for chat: %w", err)
	}
	return accounts, nil
}

func (r *EmailAccountRepository) GetActive(ctx context.Context) ([]models.EmailAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM email_accounts WHERE is_active = TRUE ORDER BY email_address`

	var accounts []models.EmailAccount
	if err := r.db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}
	return accounts, nil
}

func (r *EmailAccountRepository) UpdatePassword(ctx context.Context, id int64, passwordEncrypted string) error {
	query := r.db.Rebind(`UPDATE email_accounts SET password_encrypted = ?, updated_at = ? WHERE id = ?`)

	res, err := r.db.ExecContext(ctx, query, passwordEncrypted, r.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireRowAffected(res)
}

func (r *EmailAccountRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := r.db.Rebind(`UPDATE email_accounts SET is_active = ?, updated_at = ? WHERE id = ?`)

	res, err := r.db.ExecContext(ctx, query, active, r.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update active flag: %w", err)
	}
	return requireRowAffected(res)
}

func (r *EmailAccountRepository) Delete(ctx context.Context, id int64) error {
	query := r.db.Rebind(`DELETE FROM email_accounts WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete email account: %w", err)
	}
	return nil
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
