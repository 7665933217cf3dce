package main

import (
	"context"
	"encoding/json"
	"log"

	api "mailvault/cmd/api"
	messageDelivery "mailvault/internal/message/delivery"
	"mailvault/internal/message/domain"
	"mailvault/internal/message/repository"
	"mailvault/internal/message/storage"
	"mailvault/internal/message/usecase"
	"mailvault/internal/notification"
	"mailvault/internal/security"
	"mailvault/pkg/ai"
	"mailvault/pkg/archive"
	"mailvault/pkg/config"
	"mailvault/pkg/database"
	"mailvault/pkg/gmail"
	"mailvault/pkg/imap"
	"mailvault/pkg/utils/crypto"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(&domain.Message{}, &domain.Attachment{}, &domain.ImportJob{}); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize repositories (dependency injection)
	messageRepo := repository.NewMessageRepository(db)
	jobRepo := repository.NewImportJobRepository(db)

	// Jobs left running by a previous process can never finish.
	if n, err := jobRepo.MarkInterrupted(); err != nil {
		log.Fatal("Failed to reconcile interrupted jobs:", err)
	} else if n > 0 {
		log.Printf("[Startup] Marked %d interrupted jobs as failed", n)
	}

	// Initialize archive store
	store, err := archive.NewStore(cfg.ArchivePath)
	if err != nil {
		log.Fatal("Failed to initialize archive store:", err)
	}
	writer := storage.NewDualWriter(db, messageRepo, store)

	// Initialize attachment validator, with ClamAV when configured
	var scanner security.Scanner
	if cfg.ClamAVEnabled {
		clam := security.NewClamavScanner(cfg.ClamAVAddress)
		if err := clam.Ping(); err != nil {
			log.Printf("[WARN] ClamAV not reachable at %s: %v", cfg.ClamAVAddress, err)
		}
		scanner = clam
	}
	validator := security.NewValidator(cfg, scanner)

	// Initialize embedding service and worker
	embedder, err := ai.NewEmbeddingService(ai.Config{
		Provider:    ai.ProviderType(cfg.EmbeddingProvider),
		BaseURL:     cfg.EmbeddingBaseURL,
		APIKey:      cfg.EmbeddingAPIKey,
		Model:       cfg.EmbeddingModel,
		Dimension:   cfg.EmbeddingDimension,
		MaxAttempts: cfg.EmbedMaxAttempts,
	})
	if err != nil {
		log.Fatal("Failed to initialize embedding service:", err)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	embedWorker := usecase.NewEmbeddingWorker(messageRepo, embedder, cfg.EmbedWorkers, cfg.EmbedQueueSize)
	embedWorker.Start(rootCtx)

	// Register the configured provider adapters
	registry := domain.NewProviderRegistry()

	if cfg.GmailAccount != "" && cfg.GoogleClientID != "" {
		onRefresh := func(token *oauth2.Token) error {
			// Tokens live in the environment; surface the refreshed value so
			// the operator can update it.
			raw, err := json.Marshal(map[string]string{"access_token": token.AccessToken})
			if err != nil {
				return err
			}
			log.Printf("[Gmail] Access token refreshed for %s: %s", cfg.GmailAccount, string(raw))
			return nil
		}
		gmailProvider, err := gmail.NewProvider(rootCtx, cfg.GmailAccount, gmail.Credentials{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			AccessToken:  cfg.GmailAccessToken,
			RefreshToken: cfg.GmailRefreshToken,
		}, onRefresh)
		if err != nil {
			log.Fatal("Failed to initialize Gmail provider:", err)
		}
		registry.Register(gmailProvider)
		log.Printf("[Startup] Registered gmail provider for %s", cfg.GmailAccount)
	}

	if cfg.IMAPServer != "" && cfg.IMAPAccount != "" {
		password, err := crypto.Decrypt(cfg.IMAPEncryptedPassword, cfg.EncryptionKey)
		if err != nil {
			log.Fatal("Failed to decrypt IMAP password:", err)
		}
		registry.Register(imap.NewProvider(cfg.IMAPServer, cfg.IMAPPort, cfg.IMAPAccount, password))
		log.Printf("[Startup] Registered imap provider for %s", cfg.IMAPAccount)
	}

	// Initialize use cases (dependency injection)
	importUsecase := usecase.NewImportUsecase(registry, jobRepo, messageRepo, writer, validator, embedWorker, cfg)
	searchUsecase := usecase.NewSearchUsecase(messageRepo, embedder, cfg)
	defer importUsecase.Shutdown()

	// Pub/Sub push-triggered incremental sync, only when a project is configured
	if cfg.GoogleProjectID != "" {
		notifService, err := notification.NewService(cfg.GoogleProjectID, cfg.PubSubSubscription, importUsecase, registry, "")
		if err != nil {
			log.Printf("[ERROR] Failed to initialize notification service: %v", err)
		} else {
			go notifService.Start(rootCtx)
		}
	} else {
		log.Printf("[WARN] GoogleProjectID not configured, push-triggered sync disabled")
	}

	// Initialize HTTP handler
	handler := messageDelivery.NewMessageHandler(importUsecase, searchUsecase, embedWorker, messageRepo, store, registry)

	r := gin.Default()
	api.SetupRoutes(r, handler, cfg)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
