// Command ticket-worker issues tickets from order.paid events when the API
// runs with KAFKA_ASYNC_ISSUANCE. It serves only /metrics.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-tickets/internal/config"
	"ms-tickets/internal/kafka"
	"ms-tickets/internal/logger"
	"ms-tickets/internal/mailer"
	"ms-tickets/internal/metrics"
	"ms-tickets/internal/order/db"
	ticket_db "ms-tickets/internal/tickets/db"
	tickets "ms-tickets/internal/tickets/service"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) *bun.DB {
	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	if err := sqldb.PingContext(ctx); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	logger.Info("DATABASE", "PostgreSQL connection successful")

	return bun.NewDB(sqldb, pgdialect.New())
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("CONFIG", err.Error())
	}
	if !cfg.Kafka.Enabled {
		logger.Fatal("CONFIG", "ticket-worker needs KAFKA_ENABLED")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()

	registry := prometheus.NewRegistry()
	appMetrics := metrics.New(registry)

	producer := kafka.NewProducer(cfg.Kafka.Brokers, kafka.Topics{
		OrderPaid:    cfg.Kafka.Topics.OrderPaid,
		TicketIssued: cfg.Kafka.Topics.TicketIssued,
	}, logger)
	defer producer.Close()

	mail := mailer.New(mailer.Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.From,
		FromName: cfg.Email.FromName,
	}, logger)

	service, err := tickets.NewTicketService(cfg, &ticket_db.DB{Bun: bunDB}, &db.DB{Bun: bunDB}, mail, producer, logger, appMetrics)
	if err != nil {
		logger.Fatal("CONFIG", fmt.Sprintf("Failed to build ticket service: %v", err))
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfg.Server.Port, Handler: r, ReadTimeout: cfg.Server.ReadTimeout}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP", fmt.Sprintf("Metrics server error: %v", err))
		}
	}()

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.OrderPaid, cfg.Kafka.GroupID, logger)
	defer consumer.Close()

	logger.Info("APP", "Ticket worker started")
	if err := consumer.RunOrderPaid(ctx, service.HandleOrderPaid); err != nil {
		logger.Error("KAFKA", fmt.Sprintf("Order-paid consumer stopped: %v", err))
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctxShutdown)
	logger.Info("APP", "Ticket worker shutdown complete")
}
