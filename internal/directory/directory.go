// Package directory is the source of truth for registered mailbox accounts
// and the only place that touches their stored credentials.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mailgram-io/mailgram/internal/models"
	"github.com/mailgram-io/mailgram/internal/repository"
)

// ErrNotFound is returned when an account id matches nothing.
var ErrNotFound = repository.ErrNotFound

// Cipher seals and opens stored credentials.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type accountStore interface {
	Create(ctx context.Context, account *models.EmailAccount) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.EmailAccount, error)
	GetByChatID(ctx context.Context, chatID int64) ([]models.EmailAccount, error)
	GetActive(ctx context.Context) ([]models.EmailAccount, error)
	UpdatePassword(ctx context.Context, id int64, passwordEncrypted string) error
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
}

// DecryptedAccount carries an account together with its plaintext IMAP
// password. It must never be persisted or logged.
type DecryptedAccount struct {
	models.EmailAccount
	Password string
}

// Directory combines the account repository with the credential cipher.
type Directory struct {
	store  accountStore
	cipher Cipher
	logger *log.Logger
}

func New(store accountStore, cipher Cipher) *Directory {
	return &Directory{
		store:  store,
		cipher: cipher,
		logger: log.New(log.Writer(), "[DIRECTORY] ", log.LstdFlags),
	}
}

// ListActive returns every account that should hold a live session.
func (d *Directory) ListActive(ctx context.Context) ([]models.EmailAccount, error) {
	return d.store.GetActive(ctx)
}

// ListByChat returns the accounts registered from one Telegram chat.
func (d *Directory) ListByChat(ctx context.Context, chatID int64) ([]models.EmailAccount, error) {
	return d.store.GetByChatID(ctx, chatID)
}

// Get returns the account without credentials.
func (d *Directory) Get(ctx context.Context, id int64) (*models.EmailAccount, error) {
	return d.store.GetByID(ctx, id)
}

// GetDecrypted returns the account with its plaintext password.
func (d *Directory) GetDecrypted(ctx context.Context, id int64) (*DecryptedAccount, error) {
	account, err := d.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	password, err := d.cipher.Decrypt(account.PasswordEncrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials for account %d: %w", id, err)
	}

	return &DecryptedAccount{EmailAccount: *account, Password: password}, nil
}

// Create encrypts the password and persists a new account.
func (d *Directory) Create(ctx context.Context, account *models.EmailAccount, password string) (int64, error) {
	sealed, err := d.cipher.Encrypt(password)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	account.PasswordEncrypted = sealed

	id, err := d.store.Create(ctx, account)
	if err != nil {
		return 0, err
	}
	d.logger.Printf("Registered account %d (%s)", id, account.EmailAddress)
	return id, nil
}

// UpdatePassword re-encrypts and stores a new password for the account.
func (d *Directory) UpdatePassword(ctx context.Context, id int64, password string) error {
	sealed, err := d.cipher.Encrypt(password)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	return d.store.UpdatePassword(ctx, id, sealed)
}

// SetActive toggles whether the account participates in session refreshes.
func (d *Directory) SetActive(ctx context.Context, id int64, active bool) error {
	return d.store.SetActive(ctx, id, active)
}

// Remove deletes the account. Missing accounts are tolerated.
func (d *Directory) Remove(ctx context.Context, id int64) error {
	err := d.store.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}
