package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server Server
	Bot    Bot
	Admin  Admin
	Redis  Redis
	Kafka  Kafka
	DB     DB
}

type Server struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Bot struct {
	Token       string
	APIBase     string
	ChannelID   string
	PaymentLink string
	// ClaimTTL is how long an unresolved claim or rejection holds its row
	// (and its bundle slot) before expiring back to unpaid.
	ClaimTTL time.Duration
	// BroadcastDelay paces fan-out sends.
	BroadcastDelay time.Duration
}

type Admin struct {
	// SuperAdminIDs are the static full administrators: always allowed,
	// never removable at runtime.
	SuperAdminIDs []int64
	// Password gates destructive and event-switching commands. Compared as
	// plain equality, matching the operational model of a small door team.
	Password string
}

type Redis struct {
	Addr string
}

type Kafka struct {
	Brokers []string
	GroupID string
	Enabled bool
}

type DB struct {
	DSN string
}

func Load() *Config {
	return &Config{
		Server: Server{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Bot: Bot{
			Token:          getEnv("BOT_TOKEN", ""),
			APIBase:        getEnv("BOT_API_BASE", "https://api.telegram.org"),
			ChannelID:      getEnv("CHANNEL_ID", ""),
			PaymentLink:    getEnv("PAYMENT_LINK", ""),
			ClaimTTL:       time.Duration(getEnvInt("CLAIM_TTL_MINUTES", 30)) * time.Minute,
			BroadcastDelay: time.Duration(getEnvInt("BROADCAST_DELAY_MS", 50)) * time.Millisecond,
		},
		Admin: Admin{
			SuperAdminIDs: parseIDs(getEnv("ADMIN_IDS", "")),
			Password:      getEnv("ADMIN_PASSWORD", ""),
		},
		Redis: Redis{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: Kafka{
			Brokers: []string{getEnv("KAFKA_ADDR", "localhost:9092")},
			GroupID: getEnv("KAFKA_GROUP_ID", "ticketline"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
		},
		DB: DB{
			DSN: getEnv("POSTGRES_DSN", ""),
		},
	}
}

// parseIDs splits a comma-separated id list, tolerating spaces and empties.
func parseIDs(s string) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
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
