package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	client *redislib.Client
	once   sync.Once

	ErrNotConfigured = errors.New("redis is not configured")
)

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (cfg Config) Enabled() bool {
	return cfg.Host != ""
}

func (cfg Config) Addr() string {
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", cfg.Host, port)
}

// Init connects and pings with exponential backoff. On failure the client is
// discarded and Client returns nil.
func Init(cfg Config, logger zerolog.Logger) (*redislib.Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	var initErr error

	once.Do(func() {
		c := redislib.NewClient(&redislib.Options{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		})

		attempts := 5
		backoff := 200 * time.Millisecond

		for attempt := 1; attempt <= attempts; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := c.Ping(ctx).Err()
			cancel()

			if err == nil {
				client = c
				initErr = nil
				logger.Info().Str("addr", cfg.Addr()).Msg("redis connection established")
				return
			}

			initErr = err
			logger.Debug().Err(err).Int("attempt", attempt).Msg("redis ping failed")
			if attempt < attempts {
				time.Sleep(backoff)
				backoff *= 2
			}
		}

		_ = c.Close()
	})

	if client == nil && initErr == nil {
		return nil, fmt.Errorf("redis client not initialized")
	}

	return client, initErr
}

func Client() *redislib.Client {
	return client
}

func Close() error {
	if client == nil {
		return nil
	}
	return client.Close()
}
