package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukerupert/latchkey/internal/backup"
	"github.com/dukerupert/latchkey/internal/catalog"
	"github.com/dukerupert/latchkey/internal/database"
	"github.com/dukerupert/latchkey/internal/email"
	"github.com/dukerupert/latchkey/internal/logging"
	"github.com/dukerupert/latchkey/internal/payment"
	"github.com/dukerupert/latchkey/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("LATCHKEY_LOG_LEVEL"))

	port := os.Getenv("LATCHKEY_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("LATCHKEY_DB_PATH")
	if dbPath == "" {
		dbPath = "latchkey.db"
	}

	baseURL := os.Getenv("LATCHKEY_BASE_URL")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%s", port)
	}

	sessionSecret := os.Getenv("LATCHKEY_SESSION_SECRET")
	if sessionSecret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			slog.Error("generate session secret", "error", err)
			os.Exit(1)
		}
		sessionSecret = hex.EncodeToString(buf)
		slog.Warn("LATCHKEY_SESSION_SECRET not set; using an ephemeral secret, sessions will not survive restarts")
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	stripeKey := os.Getenv("STRIPE_SECRET_KEY")
	if stripeKey == "" {
		slog.Warn("STRIPE_SECRET_KEY not set; checkout and webhook routes are disabled")
	}

	emailClient := email.NewClient(os.Getenv("LATCHKEY_POSTMARK_TOKEN"), os.Getenv("LATCHKEY_FROM_EMAIL"), baseURL)
	if !emailClient.Configured() {
		slog.Warn("LATCHKEY_POSTMARK_TOKEN not set; login links will be logged instead of emailed")
	}

	cfg := server.Config{
		Stripe: payment.Config{
			SecretKey:     stripeKey,
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			BaseURL:       baseURL,
			Currency:      catalog.Currency,
		},
		BaseURL:       baseURL,
		SessionSecret: sessionSecret,
		EmailClient:   emailClient,
	}

	srv := server.New(db, cfg, logger)

	backupMgr := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("LATCHKEY_BACKUP_S3_ENDPOINT"),
			Bucket:    os.Getenv("LATCHKEY_BACKUP_S3_BUCKET"),
			Region:    os.Getenv("LATCHKEY_BACKUP_S3_REGION"),
			AccessKey: os.Getenv("LATCHKEY_BACKUP_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("LATCHKEY_BACKUP_S3_SECRET_KEY"),
		},
		DBPath:        dbPath,
		Passphrase:    os.Getenv("LATCHKEY_BACKUP_PASSPHRASE"),
		ScheduleHour:  envInt("LATCHKEY_BACKUP_HOUR", 3),
		RetentionDays: envInt("LATCHKEY_BACKUP_RETENTION_DAYS", 30),
	}, db, logger.With("component", "backup"))

	backupCtx, backupCancel := context.WithCancel(context.Background())
	defer backupCancel()
	if backupMgr.Enabled() {
		backupMgr.Start(backupCtx)
		slog.Info("ledger snapshots enabled")
	}

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("latchkey starting", "addr", ":"+port, "base_url", baseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	backupCancel()
	backupMgr.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment", "name", name, "value", v)
		return fallback
	}
	return n
}
