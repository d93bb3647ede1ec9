package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	WriteTTL time.Duration `yaml:"write_ttl"`
}

// RedisSource reads JSON-encoded values from Redis by string key.
type RedisSource[V any] struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	ttl         time.Duration
}

// NewRedisSource creates and connects a new RedisSource.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisSource[V any](
	ctx context.Context,
	cfg *RedisConfig,
	logger zerolog.Logger,
) (*RedisSource[V], error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisSource[V]{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisSource").Logger(),
		ttl:         cfg.WriteTTL,
	}, nil
}

// Fetch retrieves and decodes the value stored under key.
func (s *RedisSource[V]) Fetch(ctx context.Context, key string) (V, error) {
	var zero V
	cachedData, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("redis key %s: %w", key, ErrNotFound)
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Unexpected Redis error during fetch.")
		return zero, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}

	var value V
	if err := json.Unmarshal([]byte(cachedData), &value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal Redis data.")
		return zero, fmt.Errorf("failed to unmarshal data for key %s: %w", key, err)
	}

	s.logger.Debug().Str("key", key).Msg("Fetched value from Redis.")
	return value, nil
}

// Write JSON-encodes value and stores it under key with the configured TTL.
func (s *RedisSource[V]) Write(ctx context.Context, key string, value V) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal data for key %s: %w", key, err)
	}
	if err := s.redisClient.Set(ctx, key, jsonData, s.ttl).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to set data in Redis.")
		return fmt.Errorf("failed to set in redis for key %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client connection.
func (s *RedisSource[V]) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}
