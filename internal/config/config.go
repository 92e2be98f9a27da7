package config

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	cfg *Config
	mu  sync.RWMutex
)

// Config represents the application configuration
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	IMAP         IMAPConfig         `mapstructure:"imap"`
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`
	Crypto       CryptoConfig       `mapstructure:"crypto"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	BaseURL string `mapstructure:"base_url"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
	// Path is the database file location for the sqlite3 driver.
	Path string `mapstructure:"path"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	// PollTimeout is the getUpdates long-poll timeout in seconds.
	PollTimeout int `mapstructure:"poll_timeout"`
}

type IMAPConfig struct {
	// RefreshSchedule is a cron expression (with seconds field) for the
	// periodic teardown/rebuild of all mailbox sessions.
	RefreshSchedule   string        `mapstructure:"refresh_schedule"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	DefaultSpamFolder string        `mapstructure:"default_spam_folder"`
}

type ProvisioningConfig struct {
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type CryptoConfig struct {
	Passphrase string `mapstructure:"passphrase"`
}

// Load reads configuration from the given file and the environment and
// installs it as the process-wide configuration. Environment variables use
// the MAILGRAM_ prefix (e.g. MAILGRAM_TELEGRAM_TOKEN).
func Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MAILGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	mu.Lock()
	cfg = loaded
	mu.Unlock()

	v.OnConfigChange(func(e fsnotify.Event) {
		reloaded := &Config{}
		if err := v.Unmarshal(reloaded); err != nil {
			log.Printf("[CONFIG] Reload of %s failed: %v", e.Name, err)
			return
		}
		mu.Lock()
		cfg = reloaded
		mu.Unlock()
		log.Printf("[CONFIG] Reloaded configuration from %s", e.Name)
	})
	v.WatchConfig()

	return nil
}

// LoadFromEnv builds a configuration from defaults and environment variables
// only, for deployments without a config file.
func LoadFromEnv() error {
	v := viper.New()
	v.SetEnvPrefix("MAILGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	mu.Lock()
	cfg = loaded
	mu.Unlock()
	return nil
}

// Get returns the current configuration, or nil when Load was never called.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mailgram")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.base_url", "http://localhost:3000")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "mailgram")
	v.SetDefault("database.user", "mailgram")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "mailgram.db")

	// Empty defaults keep env-only keys visible to Unmarshal.
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.poll_timeout", 30)
	v.SetDefault("crypto.passphrase", "")

	v.SetDefault("imap.refresh_schedule", "0 0 * * * *")
	v.SetDefault("imap.dial_timeout", "10s")
	v.SetDefault("imap.connect_timeout", "30s")
	v.SetDefault("imap.idle_timeout", "24m")
	v.SetDefault("imap.default_spam_folder", "Junk")

	v.SetDefault("provisioning.token_ttl", "30m")
}

// DSN renders the driver-specific connection string.
func (c DatabaseConfig) DSN() string {
	switch c.Driver {
	case "sqlite3":
		return c.Path
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Name)
	default:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
}

// Addr returns the host:port the HTTP server listens on.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
