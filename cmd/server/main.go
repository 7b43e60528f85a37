package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/puzzleboard/internal/aoc"
	"github.com/puzzleboard/internal/config"
	"github.com/puzzleboard/internal/domain"
	"github.com/puzzleboard/internal/handler"
	"github.com/puzzleboard/internal/kafka"
	"github.com/puzzleboard/internal/membership"
	"github.com/puzzleboard/internal/postgres"
	"github.com/puzzleboard/internal/puzzles"
	pbredis "github.com/puzzleboard/internal/redis"
	"github.com/puzzleboard/internal/refresh"
	"github.com/puzzleboard/internal/scoring"
	"github.com/puzzleboard/internal/service"
	"github.com/puzzleboard/internal/websocket"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	redisClient, err := pbredis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	snapshotCache := pbredis.NewSnapshotCache(redisClient, cfg.Refresh.CacheTTL, logger)
	membershipStore := pbredis.NewMembershipStore(redisClient)

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	postgresRepo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer postgresRepo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := postgresRepo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize refresh coordinator over the upstream client
	aocClient := aoc.NewClient(&cfg.Aoc, logger)
	coordinator := refresh.NewCoordinator(aocClient, snapshotCache, postgresRepo, &cfg.Refresh, logger)

	// Initialize WebSocket hub; subscriptions hold refresh views open
	wsHub := websocket.NewHub(coordinator, logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Every applied snapshot fans out as recomputed standings
	coordinator.OnApply(func(roomID string, snapshot *domain.CompletionSnapshot, info refresh.Info) {
		broadcastCtx, broadcastCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer broadcastCancel()

		enrolled, err := postgresRepo.ListEnrollments(broadcastCtx, roomID)
		if err != nil {
			logger.Warn("skipping standings broadcast", "room_id", roomID, "error", err)
			return
		}
		members := make([]domain.Member, len(enrolled))
		for i, e := range enrolled {
			members[i] = e.Member
		}
		now := time.Now()
		wsHub.BroadcastStandingsUpdate(websocket.StandingsUpdate{
			RoomID:      roomID,
			Entries:     scoring.ComputeStandings(puzzles.ForYears(puzzles.Years(now), now), members, snapshot),
			Stale:       info.Stale,
			RefreshedAt: info.RefreshedAt,
		})
	})

	// Initialize membership reconciler and room service
	reconciler := membership.NewReconciler(membershipStore, coordinator, logger)
	roomService := service.NewRoomService(postgresRepo, coordinator, reconciler, logger)

	// Warm refresh views for known rooms so standings load before the first
	// browser connects; rooms nobody reads retire after one interval
	if rooms, err := postgresRepo.ListRooms(ctx); err != nil {
		logger.Warn("failed to list rooms on startup", "error", err)
	} else {
		for _, room := range rooms {
			coordinator.EnsureView(room.ID)
		}
		logger.Info("warmed refresh views", "rooms", len(rooms))
	}

	// Initialize Kafka consumer for roster mutations
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, roomService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(roomService, wsHub, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
