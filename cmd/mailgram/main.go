package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mailgram-io/mailgram/internal/config"
	"github.com/mailgram-io/mailgram/internal/crypto"
	"github.com/mailgram-io/mailgram/internal/database"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPathFlag string

var rootCmd = &cobra.Command{
	Use:   "mailgram",
	Short: "Mailgram CLI - mailbox watcher management tool",
	Long: `Mailgram Command Line Interface

Utilities for managing a Mailgram installation: schema migration and
credential sealing for manual database fixes.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Mailgram CLI %s\n", rootCmd.Version)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt [password]",
	Short: "Seal a mailbox password with the configured passphrase",
	Long: `Encrypts a plaintext IMAP password the same way the server does, for
manual inserts or verification. Reads the passphrase from the
configuration (MAILGRAM_CRYPTO_PASSPHRASE).`,
	Args: cobra.ExactArgs(1),
	RunE: runEncrypt,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", "", "Path to config file (defaults to environment only)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(encryptCmd)
}

func loadConfig() (*config.Config, error) {
	if configPathFlag != "" {
		if err := config.Load(configPathFlag); err != nil {
			return nil, err
		}
	} else if err := config.LoadFromEnv(); err != nil {
		return nil, err
	}
	return config.Get(), nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		return err
	}
	fmt.Println("Schema is up to date")
	return nil
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Crypto.Passphrase == "" {
		return fmt.Errorf("crypto passphrase is not configured")
	}

	cipher, err := crypto.New(cfg.Crypto.Passphrase)
	if err != nil {
		return err
	}
	sealed, err := cipher.Encrypt(args[0])
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
