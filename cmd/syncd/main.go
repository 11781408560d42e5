package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/store"
	mailsync "github.com/brandon/mailsync/internal/sync"
	"github.com/brandon/mailsync/pkg/types"
)

var (
	version     = "dev"
	configPath  = flag.String("config", "", "Path to YAML configuration file")
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailsync version %s\n", version)
		os.Exit(0)
	}

	// Set up logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Starting mail sync daemon")

	// Open the database
	db, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persist configured accounts
	var accountIDs []string
	for i := range cfg.Accounts {
		account := cfg.Accounts[i].Account()
		id, err := db.Accounts().Upsert(ctx, &account)
		if err != nil {
			logger.WithError(err).WithField("account", account.Email).
				Warn("Failed to persist account")
			continue
		}
		accountIDs = append(accountIDs, id)
	}
	if len(accountIDs) == 0 {
		logger.Fatal("No usable accounts configured")
	}

	orchestrator := mailsync.NewOrchestrator(mailsync.Stores{
		Accounts:    db.Accounts(),
		Folders:     db.Folders(),
		Emails:      db.Emails(),
		Attachments: db.Attachments(),
	}, cfg.BlobDir, logger)

	orchestrator.Events = mailsync.Events{
		AccountConnected: func(accountID string) {
			logger.WithField("account_id", accountID).Info("Account connected")
		},
		AccountDisconnected: func(accountID string) {
			logger.WithField("account_id", accountID).Info("Account disconnected")
		},
		AccountError: func(accountID string, err error) {
			logger.WithError(err).WithField("account_id", accountID).Warn("Account error")
		},
		AccountConnectionFailed: func(accountID string, err error) {
			logger.WithError(err).WithField("account_id", accountID).
				Error("Account connection failed permanently")
		},
	}
	defer orchestrator.DisconnectAll()

	if err := orchestrator.InitializeAllAccounts(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to initialize accounts")
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Run periodic sync in a goroutine
	go runSyncLoop(ctx, orchestrator, accountIDs, cfg.SyncInterval.Std(), logger)

	sig := <-sigChan
	logger.WithField("signal", sig).Info("Received shutdown signal")
	cancel()

	logger.Info("Shutting down mail sync daemon")
}

// runSyncLoop performs an initial sync pass and then one per interval until
// the context is canceled.
func runSyncLoop(ctx context.Context, orchestrator *mailsync.Orchestrator, accountIDs []string, interval time.Duration, logger *logrus.Logger) {
	syncAll(ctx, orchestrator, accountIDs, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			syncAll(ctx, orchestrator, accountIDs, logger)
		}
	}
}

func syncAll(ctx context.Context, orchestrator *mailsync.Orchestrator, accountIDs []string, logger *logrus.Logger) {
	for _, accountID := range accountIDs {
		if ctx.Err() != nil {
			return
		}

		accountLogger := logger.WithField("account_id", accountID)
		results, err := orchestrator.SyncAccount(ctx, accountID, func(p types.SyncProgress) {
			accountLogger.WithFields(logrus.Fields{
				"folder_id": p.FolderID,
				"status":    p.Status,
				"current":   p.Current,
				"total":     p.Total,
			}).Debug(p.Message)
		})
		if err != nil {
			accountLogger.WithError(err).Error("Account sync failed")
			continue
		}

		var newEmails, updated, failures int
		for _, r := range results {
			newEmails += r.NewEmails
			updated += r.UpdatedEmails
			failures += len(r.Errors)
		}
		accountLogger.WithFields(logrus.Fields{
			"folders": len(results),
			"new":     newEmails,
			"updated": updated,
			"errors":  failures,
		}).Info("Account sync pass completed")
	}
}
