package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/serenelabs/voicelink/adapters/llm"
	"github.com/serenelabs/voicelink/adapters/mongo"
	"github.com/serenelabs/voicelink/domain/repositories"
	"github.com/serenelabs/voicelink/internal/api"
	"github.com/serenelabs/voicelink/internal/voicemock"
)

func main() {
	// Load .env if present; real deployments set variables directly
	_ = godotenv.Load()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Pick the responder: Gemini when an API key is configured, the
	// deterministic mock otherwise
	var responder repositories.Responder
	if os.Getenv("GEMINI_API_KEY") != "" {
		gemini, err := llm.NewGeminiResponder(logger)
		if err != nil {
			logger.Fatal("Failed to initialize Gemini responder", zap.Error(err))
		}
		responder = gemini
		logger.Info("Using Gemini responder")
	} else {
		responder = llm.NewMockResponder()
		logger.Info("Using mock responder, set GEMINI_API_KEY for live replies")
	}

	// Conversation persistence is optional; without MongoDB the server
	// still runs full sessions, it just forgets them
	var sessionRepo repositories.SessionRepository
	if os.Getenv("MONGODB_URI") != "" {
		mongoClient, err := mongo.NewClient(logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoClient.Close(ctx)
		}()
		sessionRepo = mongo.NewSessionRepository(mongoClient.Database)
	} else {
		logger.Info("MONGODB_URI not set, sessions will not be persisted")
	}

	hub := voicemock.NewHub(responder, sessionRepo, logger)

	// Initialize API routes
	api.InitRoutes(e, hub, logger)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Voice session server started", zap.String("port", port))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
