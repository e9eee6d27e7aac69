package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingConfig is wrapped by Validate for every required key that is unset.
var ErrMissingConfig = errors.New("missing required configuration")

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Email    EmailConfig
	Stripe   StripeConfig
	Tickets  TicketConfig
	Poller   PollerConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	AutoMigrate  bool
}

type RedisConfig struct {
	Addr           string
	IdempotencyTTL time.Duration
	ProcessingTTL  time.Duration
	SessionTTL     time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	GroupID       string
	Enabled       bool
	AsyncIssuance bool
	Topics        TopicConfig
}

type TopicConfig struct {
	OrderPaid    string
	TicketIssued string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	From         string
	FromName     string
	SupportEmail string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type TicketConfig struct {
	SigningSecret string
	MaxAge        time.Duration
	Theme         string
	FontPath      string
	BoldFontPath  string
	QRLevel       string
	QRSize        int
	QRMargin      int
}

type PollerConfig struct {
	MaxRetries int
	Interval   time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8084"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // SSE streams outlive any fixed write deadline
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:          getEnv("POSTGRES_DSN", ""),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			AutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", "localhost:6379"),
			IdempotencyTTL: getEnvDuration("WEBHOOK_IDEMPOTENCY_TTL", 72*time.Hour),
			ProcessingTTL:  getEnvDuration("WEBHOOK_PROCESSING_TTL", 5*time.Minute),
			SessionTTL:     getEnvDuration("SESSION_CACHE_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID:       getEnv("KAFKA_GROUP_ID", "ms-tickets"),
			Enabled:       getEnvBool("KAFKA_ENABLED", true),
			AsyncIssuance: getEnvBool("KAFKA_ASYNC_ISSUANCE", false),
			Topics: TopicConfig{
				OrderPaid:    getEnv("KAFKA_TOPIC_ORDER_PAID", "ticketing.order.paid"),
				TicketIssued: getEnv("KAFKA_TOPIC_TICKET_ISSUED", "ticketing.ticket.issued"),
			},
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnvInt("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			From:         getEnv("MAIL_FROM", ""),
			FromName:     getEnv("MAIL_FROM_NAME", "Live Event Tickets"),
			SupportEmail: getEnv("SUPPORT_EMAIL", "support@example.com"),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Tickets: TicketConfig{
			SigningSecret: getEnv("TICKET_SIGNING_SECRET", ""),
			MaxAge:        getEnvDuration("TICKET_MAX_AGE", 0),
			Theme:         getEnv("TICKET_THEME", "modern"),
			FontPath:      getEnv("TICKET_FONT_PATH", "./fonts/DejaVuSans.ttf"),
			BoldFontPath:  getEnv("TICKET_BOLD_FONT_PATH", "./fonts/DejaVuSans-Bold.ttf"),
			QRLevel:       getEnv("TICKET_QR_LEVEL", "M"),
			QRSize:        getEnvInt("TICKET_QR_SIZE", 300),
			QRMargin:      getEnvInt("TICKET_QR_MARGIN", 1),
		},
		Poller: PollerConfig{
			MaxRetries: getEnvInt("POLL_MAX_RETRIES", 15),
			Interval:   getEnvDuration("POLL_INTERVAL", 2*time.Second),
		},
	}
}

// Validate fails closed: every secret or endpoint the service cannot run
// without is reported, none is defaulted.
func (c *Config) Validate() error {
	var errs []error
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, &MissingKeyError{Key: key})
		}
	}

	require("POSTGRES_DSN", c.Database.DSN)
	require("REDIS_ADDR", c.Redis.Addr)
	require("TICKET_SIGNING_SECRET", c.Tickets.SigningSecret)
	require("STRIPE_WEBHOOK_SECRET", c.Stripe.WebhookSecret)
	require("SMTP_HOST", c.Email.SMTPHost)
	require("MAIL_FROM", c.Email.From)
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, &MissingKeyError{Key: "KAFKA_BROKERS"})
	}
	if c.Kafka.AsyncIssuance && !c.Kafka.Enabled {
		errs = append(errs, errors.New("KAFKA_ASYNC_ISSUANCE requires KAFKA_ENABLED"))
	}

	return errors.Join(errs...)
}

type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return e.Key + " not set"
}

func (e *MissingKeyError) Unwrap() error {
	return ErrMissingConfig
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
