package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ticketline/internal/admin"
	"ticketline/internal/bot"
	bot_api "ticketline/internal/bot/api"
	"ticketline/internal/config"
	"ticketline/internal/database/migrations"
	"ticketline/internal/kafka"
	"ticketline/internal/lifecycle"
	"ticketline/internal/logger"
	"ticketline/internal/redemption"
	"ticketline/internal/store"
)

func verifyConnections(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
	if cfg.DB.DSN == "" {
		log.Fatal("CONFIG", "POSTGRES_DSN not set")
	}

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DB.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	log.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Redis.Addr))

	return bunDB, redisClient
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Ticketline service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	if cfg.Bot.Token == "" {
		log.Fatal("CONFIG", "BOT_TOKEN not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, log)
	defer bunDB.Close()
	defer redisClient.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.Up(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	if err := runner.Close(); err != nil {
		log.Warn("DATABASE", fmt.Sprintf("Migration runner close: %v", err))
	}
	log.Info("DATABASE", "Schema migrations applied")

	db := &store.DB{Bun: bunDB}

	var producer *kafka.Producer
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		log.Info("KAFKA", fmt.Sprintf("Using Kafka brokers: %v", cfg.Kafka.Brokers))
		producer = kafka.NewProducer(cfg.Kafka.Brokers)
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.RequiredTopics()); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
		defer producer.Close()
	} else {
		log.Warn("KAFKA", "Kafka disabled, lifecycle events will not be published")
	}

	httpClient := &http.Client{
		Timeout: time.Second * 10,
	}
	botClient := bot.NewClient(cfg.Bot.APIBase, cfg.Bot.Token, httpClient, cfg.Admin.SuperAdminIDs, cfg.Bot.PaymentLink, log)

	expiry := lifecycle.NewRedisExpiry(redisClient, cfg.Bot.ClaimTTL)

	// Producer is a concrete type behind an interface; a typed nil must not
	// leak into the engine when Kafka is off.
	var events lifecycle.Publisher
	if producer != nil {
		events = producer
	}
	engine := lifecycle.NewEngine(db, botClient, events, expiry, log)

	adminService := admin.NewService(db, botClient, cfg.Admin.SuperAdminIDs, cfg.Admin.Password, cfg.Bot.ChannelID, cfg.Bot.BroadcastDelay, log)
	scanner := redemption.NewService(engine, db, log)

	handler := &bot_api.Handler{
		Engine:   engine,
		Scanner:  scanner,
		Admin:    adminService,
		Sessions: bot.NewSessions(),
		Client:   botClient,
		DB:       db,
		Log:      log,
	}

	log.Info("REDIS", "Starting claim expiry subscription")
	lifecycle.SubscribeExpiries(ctx, redisClient, engine, log)

	if cfg.Kafka.Enabled {
		waitlist := lifecycle.NewWaitlist(db, botClient, log)
		consumer = kafka.NewSlotFreedConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		go consumer.Start(ctx, func(event kafka.SlotFreedEvent) {
			waitlist.HandleSlotFreed(event.EventCode)
		})
		defer consumer.Close()
		log.Info("KAFKA", "Slot-freed consumer started")
	}

	log.Info("HTTP", "Setting up router")
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	handler.RegisterRoutes(r)
	log.Info("ROUTER", "Webhook and scan endpoints registered")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Ticketline service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Ticketline service shutdown complete")
	}
}
