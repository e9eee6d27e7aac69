package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-tickets/internal/analytics"
	analytics_api "ms-tickets/internal/analytics/api"
	"ms-tickets/internal/config"
	"ms-tickets/internal/database/migrations"
	"ms-tickets/internal/kafka"
	"ms-tickets/internal/logger"
	"ms-tickets/internal/mailer"
	"ms-tickets/internal/metrics"
	"ms-tickets/internal/order"
	"ms-tickets/internal/order/db"
	"ms-tickets/internal/order/order_api"
	rediswrap "ms-tickets/internal/order/redis"
	"ms-tickets/internal/sse"
	ticket_db "ms-tickets/internal/tickets/db"
	tickets "ms-tickets/internal/tickets/service"
	"ms-tickets/internal/tickets/ticket_api"
	"ms-tickets/internal/utils"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.PingContext(ctx)
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	logger.Info("DATABASE", "PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// webhooks still dedupe on the order upsert; only the fast path is lost
		logger.Warn("REDIS", fmt.Sprintf("Redis unavailable at %s: %v", cfg.Redis.Addr, err))
	} else {
		logger.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, redisClient.Options().DB))
	}
	return bunDB, redisClient
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting ticket service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("CONFIG", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, logger)
		if err := runner.RunMigrations(); err != nil {
			logger.Fatal("MIGRATION", fmt.Sprintf("Failed to run migrations: %v", err))
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)

	orderStore := &db.DB{Bun: bunDB}
	guard := rediswrap.NewRedis(redisClient, logger)
	guard.IdempotencyTTL = cfg.Redis.IdempotencyTTL
	guard.ProcessingTTL = cfg.Redis.ProcessingTTL
	guard.SessionTTL = cfg.Redis.SessionTTL

	var (
		paidPublisher   order.PaidPublisher
		ticketPublisher tickets.EventPublisher
		producer        *kafka.Producer
	)
	if cfg.Kafka.Enabled {
		topics := kafka.Topics{OrderPaid: cfg.Kafka.Topics.OrderPaid, TicketIssued: cfg.Kafka.Topics.TicketIssued}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{topics.OrderPaid, topics.TicketIssued}, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, topics, logger)
		defer producer.Close()
		paidPublisher, ticketPublisher = producer, producer
		logger.Info("KAFKA", "Kafka producer initialized successfully")
	}

	mail := mailer.New(mailer.Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.From,
		FromName: cfg.Email.FromName,
	}, logger)

	ticketStore := &ticket_db.DB{Bun: bunDB}
	ticketService, err := tickets.NewTicketService(cfg, ticketStore, orderStore, mail, ticketPublisher, logger, appMetrics)
	if err != nil {
		logger.Fatal("CONFIG", fmt.Sprintf("Failed to build ticket service: %v", err))
	}

	hub := sse.NewCheckoutEventEmitter()
	orderService := order.NewOrderService(orderStore, cfg.Stripe.WebhookSecret, logger)
	orderService.Guard = guard
	orderService.Sessions = guard
	orderService.Publisher = paidPublisher
	orderService.Hub = hub
	orderService.Metrics = appMetrics
	if cfg.Kafka.AsyncIssuance {
		// tickets come from the order.paid consumer instead of the webhook
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.OrderPaid, cfg.Kafka.GroupID, logger)
		defer consumer.Close()
		go func() {
			if err := consumer.RunOrderPaid(ctx, ticketService.HandleOrderPaid); err != nil {
				logger.Error("KAFKA", fmt.Sprintf("Order-paid consumer stopped: %v", err))
			}
		}()
	} else {
		orderService.Issuer = ticketService
	}

	orderHandler := order_api.NewHandler(orderService, hub, logger)
	orderHandler.Metrics = appMetrics
	orderHandler.Poll = order_api.PollSettings{
		MaxRetries:   cfg.Poller.MaxRetries,
		Interval:     cfg.Poller.Interval,
		SupportEmail: cfg.Email.SupportEmail,
	}
	ticketHandler := ticket_api.NewHandler(ticketService, logger)
	analyticsHandler := analytics_api.NewHandler(analytics.NewService(orderStore, ticketStore), logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(utils.RequestLogger(logger))

	orderHandler.Routes(r)
	ticketHandler.Routes(r)
	analyticsHandler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		// confirmation streams end when the service is told to stop
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("Ticket service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "Ticket service shutdown complete")
	}
}
