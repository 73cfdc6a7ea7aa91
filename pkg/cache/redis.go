package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/userhub/pkg/config"
	"github.com/redis/go-redis/v9"
)

// Connect accepts either a redis:// URL or a bare host:port.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	var opt *redis.Options
	if strings.HasPrefix(cfg.URL, "redis://") || strings.HasPrefix(cfg.URL, "rediss://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{Addr: cfg.URL, DB: cfg.DB}
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
