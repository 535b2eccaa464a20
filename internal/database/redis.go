package database

import (
	"context"
	"log"
	"time"

	"github.com/earnhub/backend/internal/config"
	"github.com/go-redis/redis/v8"
)

// OpenRedis returns nil when Redis is unreachable; callers fall back to
// process-local behaviour.
func OpenRedis(cfg config.RedisConfig) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("[REDIS] Connection failed, continuing without Redis: %v", err)
		rdb.Close()
		return nil
	}

	log.Println("[REDIS] Connection established")
	return rdb
}
