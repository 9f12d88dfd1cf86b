package main

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Coollin0/Indie-Hain/internal/chunkstore"
	"github.com/Coollin0/Indie-Hain/internal/config"
	"github.com/Coollin0/Indie-Hain/internal/database"
	"github.com/Coollin0/Indie-Hain/internal/server"
	"github.com/Coollin0/Indie-Hain/internal/server/handlers"
	"github.com/Coollin0/Indie-Hain/internal/server/httperr"
	"github.com/Coollin0/Indie-Hain/internal/services"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()
	services.Logger = logger

	if err := database.Connect(config.Current.DatabaseURL); err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	if err := database.AutoMigrateAndSeed(); err != nil {
		logger.Fatal("migration/seed failed", zap.Error(err))
	}

	store, err := chunkstore.New(config.Current.StorageRoot, database.DB, logger)
	if err != nil {
		logger.Fatal("chunk store init failed", zap.Error(err))
	}
	handlers.Init(store, config.Current.StorageRoot, logger)

	app := fiber.New(fiber.Config{
		ServerHeader: "HainDist",
		AppName:      "Indie-Hain Distribution",
		BodyLimit:    config.Current.BodyLimit,
		ErrorHandler: httperr.Handler,
	})

	server.RegisterRoutes(app)

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}
	logger.Info("server listening", zap.String("port", port))
	if err := app.Listen(":" + port); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
