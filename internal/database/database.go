// Package database opens the SQL connection and maintains the schema.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mailgram-io/mailgram/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Connect opens and pings the configured database.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Migrate creates the schema when it does not exist yet.
func Migrate(db *sqlx.DB) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS email_accounts (
			id %s,
			user_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			email_address VARCHAR(255) NOT NULL,
			password_encrypted TEXT NOT NULL,
			imap_host VARCHAR(255) NOT NULL,
			imap_port INTEGER NOT NULL,
			use_tls BOOLEAN NOT NULL DEFAULT TRUE,
			spam_folder VARCHAR(255),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, primaryKeyColumn(db.DriverName()))

	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create email_accounts table: %w", err)
	}

	index := `CREATE INDEX IF NOT EXISTS idx_email_accounts_chat_id ON email_accounts (chat_id)`
	if db.DriverName() == "mysql" {
		// MySQL has no IF NOT EXISTS for indexes; duplicate creation is benign.
		index = `CREATE INDEX idx_email_accounts_chat_id ON email_accounts (chat_id)`
		if _, err := db.Exec(index); err != nil {
			return nil
		}
		return nil
	}
	if _, err := db.Exec(index); err != nil {
		return fmt.Errorf("failed to create chat_id index: %w", err)
	}
	return nil
}

func primaryKeyColumn(driver string) string {
	switch driver {
	case "mysql":
		return "BIGINT AUTO_INCREMENT PRIMARY KEY"
	case "sqlite3":
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	default:
		return "BIGSERIAL PRIMARY KEY"
	}
}
