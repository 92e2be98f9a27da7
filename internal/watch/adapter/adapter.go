// Package adapter bridges the account directory into the watcher without
// the watcher depending on the storage layer.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailgram-io/mailgram/internal/directory"
	"github.com/mailgram-io/mailgram/internal/models"
	"github.com/mailgram-io/mailgram/internal/watch"
)

// DirectoryAdapter implements watch.AccountDirectory over the directory
// service.
type DirectoryAdapter struct {
	dir *directory.Directory
}

func New(dir *directory.Directory) *DirectoryAdapter {
	return &DirectoryAdapter{dir: dir}
}

// ListActive returns the active accounts without credentials; the watcher
// fetches credentials per account through Get when it connects.
func (a *DirectoryAdapter) ListActive(ctx context.Context) ([]watch.Account, error) {
	accounts, err := a.dir.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}

	out := make([]watch.Account, 0, len(accounts))
	for i := range accounts {
		out = append(out, convert(&accounts[i], ""))
	}
	return out, nil
}

// Get returns one account with its plaintext password.
func (a *DirectoryAdapter) Get(ctx context.Context, id int64) (watch.Account, error) {
	dec, err := a.dir.GetDecrypted(ctx, id)
	if errors.Is(err, directory.ErrNotFound) {
		return watch.Account{}, watch.ErrAccountNotFound
	}
	if err != nil {
		return watch.Account{}, err
	}
	return convert(&dec.EmailAccount, dec.Password), nil
}

func convert(acc *models.EmailAccount, password string) watch.Account {
	return watch.Account{
		ID:         acc.ID,
		ChatID:     acc.ChatID,
		Email:      acc.EmailAddress,
		Password:   password,
		Host:       acc.IMAPHost,
		Port:       acc.IMAPPort,
		UseTLS:     acc.UseTLS,
		SpamFolder: acc.SpamFolderName(),
	}
}
