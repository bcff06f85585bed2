package lifecycle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"ticketline/internal/logger"
)

const expiryKeyPrefix = "ticket_expiry:"

// RedisExpiry arms per-row claim timers as Redis keys with a TTL. Re-arming
// overwrites the key, so the newest schedule always wins; the row id travels
// in the key name and the engine re-checks authoritative state when the key
// expires. There is no true cancellation, only the state re-check.
type RedisExpiry struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisExpiry(client *redis.Client, ttl time.Duration) *RedisExpiry {
	return &RedisExpiry{Client: client, TTL: ttl}
}

func (r *RedisExpiry) Schedule(rowID int64) error {
	key := expiryKeyPrefix + strconv.FormatInt(rowID, 10)
	return r.Client.Set(context.Background(), key, "1", r.TTL).Err()
}

// SubscribeExpiries listens for Redis keyspace expiry notifications and feeds
// ticket_expiry keys into the engine. Run once at startup; the returned
// channel drains in a background goroutine until ctx is cancelled.
func SubscribeExpiries(ctx context.Context, rdb *redis.Client, engine *Engine, log *logger.Logger) {
	if _, err := rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Result(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	}

	pubsub := rdb.PSubscribe(ctx, "__keyevent@0__:expired")
	log.Info("REDIS", "Subscribed to keyevent expired notifications")

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				if !strings.HasPrefix(msg.Payload, expiryKeyPrefix) {
					continue
				}
				rowID, err := strconv.ParseInt(strings.TrimPrefix(msg.Payload, expiryKeyPrefix), 10, 64)
				if err != nil {
					log.Warn("EXPIRY", fmt.Sprintf("malformed expiry key: %s", msg.Payload))
					continue
				}
				if err := engine.HandleExpiry(rowID); err != nil {
					log.Error("EXPIRY", fmt.Sprintf("expiry handling for #%d failed: %v", rowID, err))
				}
			}
		}
	}()
}
