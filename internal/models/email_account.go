package models

import "time"

// EmailAccount is a watched mailbox registered by a Telegram user.
// PasswordEncrypted holds the AES-GCM ciphertext of the IMAP password;
// the plaintext only ever exists inside the directory service.
type EmailAccount struct {
	ID                int64     `db:"id" json:"id"`
	UserID            int64     `db:"user_id" json:"userId"`
	ChatID            int64     `db:"chat_id" json:"chatId"`
	EmailAddress      string    `db:"email_address" json:"email"`
	PasswordEncrypted string    `db:"password_encrypted" json:"-"`
	IMAPHost          string    `db:"imap_host" json:"imapHost"`
	IMAPPort          int       `db:"imap_port" json:"imapPort"`
	UseTLS            bool      `db:"use_tls" json:"useTls"`
	SpamFolder        *string   `db:"spam_folder" json:"spamFolder,omitempty"`
	IsActive          bool      `db:"is_active" json:"isActive"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `db:"updated_at" json:"updatedAt"`
}

// SpamFolderName returns the configured spam folder or "" when unset.
func (a *EmailAccount) SpamFolderName() string {
	if a.SpamFolder == nil {
		return ""
	}
	return *a.SpamFolder
}
