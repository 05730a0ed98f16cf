package main

import (
	"log"
	"os"

	api "mailrecall-backend/cmd/api"
	authdomain "mailrecall-backend/internal/auth/domain"
	authRepo "mailrecall-backend/internal/auth/repository"
	authUsecase "mailrecall-backend/internal/auth/usecase"
	emaildomain "mailrecall-backend/internal/email/domain"
	emailRepo "mailrecall-backend/internal/email/repository"
	"mailrecall-backend/internal/email/scheduler"
	emailUsecase "mailrecall-backend/internal/email/usecase"
	"mailrecall-backend/pkg/chroma"
	"mailrecall-backend/pkg/config"
	"mailrecall-backend/pkg/database"
	"mailrecall-backend/pkg/embedding"
	"mailrecall-backend/pkg/gmail"
	"mailrecall-backend/pkg/imap"
	"mailrecall-backend/pkg/ratelimit"
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
	if err := db.AutoMigrate(&authdomain.User{}, &authdomain.RefreshToken{}, &emaildomain.IndexedEmail{}, &emaildomain.SyncCursor{}); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize repositories (dependency injection)
	userRepo := authRepo.NewUserRepository(db)
	indexedEmailRepo := emailRepo.NewIndexedEmailRepository(db)
	syncCursorRepo := emailRepo.NewSyncCursorRepository(db)

	// Mailbox providers
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret)
	imapService := imap.NewService()

	// Vector index
	chromaClient, err := chroma.NewChromaClient(cfg)
	if err != nil {
		log.Fatal("Failed to initialize Chroma client:", err)
	}

	// Embedding provider
	embedder, err := embedding.NewProvider(embedding.Config{
		Provider:      embedding.ProviderType(cfg.EmbeddingProvider),
		GeminiAPIKey:  cfg.GeminiApiKey,
		GeminiModel:   cfg.GeminiEmbedModel,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
	})
	if err != nil {
		log.Fatal("Failed to initialize embedding provider:", err)
	}

	// Rate governor shared by mailbox fetching and embedding calls
	governor := ratelimit.NewGovernor()
	defer governor.Stop()

	// Initialize use cases (dependency injection)
	authUsecaseInstance := authUsecase.NewAuthUsecase(userRepo, imapService, cfg)
	syncUsecaseInstance := emailUsecase.NewEmailSyncUsecase(
		indexedEmailRepo, syncCursorRepo, userRepo,
		gmailService, imapService, chromaClient, embedder, governor, cfg,
	)

	// Background retry workers for pending vectorization
	vectorizeWorker := emailUsecase.NewVectorizeWorkerService(cfg.VectorizeWorkers)
	vectorizeWorker.SetSyncUsecase(syncUsecaseInstance)
	vectorizeWorker.Start()
	defer vectorizeWorker.Stop()

	// Periodic sync scheduler
	syncScheduler := scheduler.NewSyncScheduler(syncUsecaseInstance, vectorizeWorker, userRepo, cfg.SyncInterval)
	syncScheduler.Start()
	defer syncScheduler.Stop()

	// Initialize HTTP handler
	handler := api.NewHandler(authUsecaseInstance, syncUsecaseInstance, vectorizeWorker, cfg)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Port
	}
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	if err := handler.Start(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
