// cswatch server - ingest, ticket engine, classification, SLA monitoring,
// and the self-learning job behind one HTTP API.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/motionlabs/cswatch/pkg/api"
	"github.com/motionlabs/cswatch/pkg/classifier"
	"github.com/motionlabs/cswatch/pkg/config"
	"github.com/motionlabs/cswatch/pkg/database"
	"github.com/motionlabs/cswatch/pkg/learning"
	"github.com/motionlabs/cswatch/pkg/llm"
	"github.com/motionlabs/cswatch/pkg/services"
	"github.com/motionlabs/cswatch/pkg/sla"
	"github.com/motionlabs/cswatch/pkg/slack"
	"github.com/motionlabs/cswatch/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	slog.Info("Starting "+version.Full(), "http_port", cfg.HTTPPort, "timezone", cfg.Timezone)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	dbClient, err := database.NewClient(ctx, database.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL, migrations applied")

	// Services
	ticketService := services.NewTicketService(dbClient.Client, cfg.SLA.Threshold())
	eventService := services.NewEventService(dbClient.Client, ticketService, cfg.Ingest.DedupWindow())
	notificationService := services.NewNotificationService(dbClient.Client)
	userService := services.NewUserService(dbClient.Client)
	metricsService := services.NewMetricsService(dbClient.Client, cfg.Location())

	if err := userService.SeedAdmin(ctx); err != nil {
		log.Fatalf("Failed to seed admin account: %v", err)
	}

	// Slack (nil when unconfigured)
	slackService := slack.NewService(cfg.Slack.WebhookURL)
	if slackService == nil {
		slog.Info("Slack delivery disabled")
	}

	// LLM-backed components
	var llmClient llm.Client
	var learningService *learning.Service
	var classifierWorker *classifier.Worker
	if cfg.LLM.Enabled() {
		llmClient = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Timeout: cfg.LLM.RequestTimeout(),
		})
		classifierWorker = classifier.NewWorker(
			dbClient.Client, cfg.Classifier, cfg.LLM, llmClient, ticketService, notificationService)
		learningService = learning.NewService(
			dbClient.Client, dbClient.DB(), llmClient, cfg.LLM.ModelEscalation, cfg.Learning)
	} else {
		slog.Warn("LLM_API_KEY not set; classifier and learning are disabled")
	}

	// Background workers
	slaMonitor := sla.NewMonitor(
		dbClient.Client, cfg.SLA.Threshold(), cfg.SLA.TickInterval(), slackService, notificationService)
	slaMonitor.Start(ctx)
	defer slaMonitor.Stop()

	if classifierWorker != nil {
		classifierWorker.Start(ctx)
		defer classifierWorker.Stop()
	}

	if learningService != nil {
		scheduler, err := learning.NewScheduler(learningService, cfg.Learning.ScheduleCron, cfg.Location())
		if err != nil {
			log.Fatalf("Invalid LEARNING_SCHEDULE_CRON: %v", err)
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	// HTTP server
	server := api.NewServer(
		cfg.DeviceKey, cfg.JWTSecret,
		dbClient,
		eventService, ticketService, metricsService,
		notificationService, userService, learningService,
	)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", ":"+cfg.HTTPPort)
		serverErr <- server.Start(":" + cfg.HTTPPort)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received, draining")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	slog.Info("Shutdown complete")
}
