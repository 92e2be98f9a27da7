// Package watch maintains one live IMAP session per active mailbox account,
// relays new-mail events to a notification sink, and executes mark-read and
// mark-spam actions against the mailbox.
package watch

import "context"

// Account is everything the watcher needs to hold a session on one mailbox.
// Password is plaintext and must never leave this process.
type Account struct {
	ID         int64
	ChatID     int64
	Email      string
	Password   string
	Host       string
	Port       int
	UseTLS     bool
	SpamFolder string
}

// AccountDirectory resolves accounts for the watcher.
type AccountDirectory interface {
	ListActive(ctx context.Context) ([]Account, error)
	Get(ctx context.Context, id int64) (Account, error)
}

// Sink receives new-mail events. Delivery failures are logged by the
// watcher and never tear down the session.
type Sink interface {
	NotifyNewMail(ctx context.Context, event NewMailEvent) error
}
