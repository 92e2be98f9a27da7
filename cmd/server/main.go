package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/mailgram-io/mailgram/internal/api"
	"github.com/mailgram-io/mailgram/internal/bot"
	"github.com/mailgram-io/mailgram/internal/config"
	"github.com/mailgram-io/mailgram/internal/crypto"
	"github.com/mailgram-io/mailgram/internal/database"
	"github.com/mailgram-io/mailgram/internal/directory"
	"github.com/mailgram-io/mailgram/internal/notify"
	"github.com/mailgram-io/mailgram/internal/repository"
	"github.com/mailgram-io/mailgram/internal/runner"
	"github.com/mailgram-io/mailgram/internal/runner/tasks"
	"github.com/mailgram-io/mailgram/internal/telegram"
	"github.com/mailgram-io/mailgram/internal/token"
	"github.com/mailgram-io/mailgram/internal/watch"
	"github.com/mailgram-io/mailgram/internal/watch/adapter"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	if err := config.Load(configPath); err != nil {
		log.Printf("Failed to load configuration from file: %v", err)
		// Continue with environment variables
		if err := config.LoadFromEnv(); err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	cfg := config.Get()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	if cfg.Telegram.Token == "" {
		log.Fatal("MAILGRAM_TELEGRAM_TOKEN is required")
	}
	if cfg.Crypto.Passphrase == "" {
		log.Fatal("MAILGRAM_CRYPTO_PASSPHRASE is required")
	}

	// Database and schema
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Successfully connected to database")

	// Account directory with credential encryption
	cipher, err := crypto.New(cfg.Crypto.Passphrase)
	if err != nil {
		log.Fatalf("Failed to initialize cipher: %v", err)
	}
	repo := repository.NewEmailAccountRepository(db)
	dir := directory.New(repo, cipher)

	// Telegram surface
	tgClient := telegram.NewClient(cfg.Telegram.Token)
	sink := notify.NewTelegramSink(tgClient)
	tokens := token.NewStore(cfg.Provisioning.TokenTTL)

	// Mailbox watcher
	manager := watch.NewManager(adapter.New(dir), sink,
		watch.WithDialTimeout(cfg.IMAP.DialTimeout),
		watch.WithConnectTimeout(cfg.IMAP.ConnectTimeout),
		watch.WithIdleTimeout(cfg.IMAP.IdleTimeout),
		watch.WithDefaultSpamFolder(cfg.IMAP.DefaultSpamFolder),
	)
	defer manager.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bring up the sessions for everything already registered.
	go func() {
		if err := manager.RefreshAll(ctx); err != nil {
			log.Printf("Initial session refresh: %v", err)
		}
	}()

	// Periodic session refresh
	registry := runner.NewTaskRegistry()
	registry.Register(tasks.NewConnectionRefreshTask(manager, cfg.IMAP.RefreshSchedule))
	taskRunner := runner.NewRunner(registry)
	if err := taskRunner.Start(ctx); err != nil {
		log.Fatalf("Failed to start task runner: %v", err)
	}
	defer taskRunner.Stop()

	// Bot command surface
	mailBot := bot.New(tgClient, manager, dir, tokens, cfg.App.BaseURL, cfg.Telegram.PollTimeout)
	go mailBot.Run(ctx)

	// Provisioning API
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	handler := api.NewHandler(dir, manager, sink, tokens, cfg.App.Name)
	handler.Register(router)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Printf("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
}
