package database

import (
	"context"
	"net"
	"time"

	"github.com/jobscope/lakehouse/pkg/common/config"
	"github.com/jobscope/lakehouse/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 5 * time.Second

// RedisOptions maps the task cache settings onto client options.
func RedisOptions(cfg *config.Config) *redis.Options {
	return &redis.Options{
		Addr:        net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: redisPingTimeout,
	}
}

// OpenTaskCache connects the redis instance that holds task snapshots. It
// returns nil when no host is configured or the server does not answer; task
// progress then lives in postgres only.
func OpenTaskCache(ctx context.Context, cfg *config.Config) *redis.Client {
	if cfg.RedisHost == "" {
		logger.Log.Info("Task cache disabled, no redis host configured")
		return nil
	}

	opts := RedisOptions(cfg)
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithField("addr", opts.Addr).WithError(err).Warn("Task cache unavailable, serving task state from postgres")
		client.Close()
		return nil
	}

	logger.WithField("addr", opts.Addr).Info("Connected to task cache")
	return client
}
