/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/hydroclip/internal/events"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures int
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxFailures:  5,
	}
}

// RedisBus publishes events to Redis pub/sub channels under SubjectPrefix.
// After MaxFailures consecutive publish errors it stops talking to Redis.
type RedisBus struct {
	client   *redis.Client
	fallback *events.Bus
	nodeID   string
	logger   zerolog.Logger

	mu          sync.Mutex
	useFallback bool
	failCount   int
	maxFails    int
}

// NewRedisBus connects to Redis and falls back to in-process delivery when
// the server does not answer a ping.
func NewRedisBus(ctx context.Context, cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisBus {
	logger = logger.With().Str("component", "redis_bus").Logger()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	rb := &RedisBus{
		fallback: events.NewBus(),
		nodeID:   nodeID,
		logger:   logger,
		maxFails: cfg.MaxFailures,
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis connection failed, using in-memory fallback")
		client.Close()
		rb.useFallback = true
		return rb
	}

	rb.client = client
	logger.Info().Str("addr", cfg.Addr).Msg("Redis event bus initialized")
	return rb
}

// Connected reports whether events leave the process.
func (rb *RedisBus) Connected() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return !rb.useFallback
}

// Subscribe registers a local subscriber.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	return rb.fallback.Subscribe(eventType)
}

// Unsubscribe removes a local subscriber.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.fallback.Unsubscribe(eventType, sub)
}

// Publish delivers locally and, unless the breaker is open, to Redis.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.fallback.Publish(eventType, payload)

	rb.mu.Lock()
	client := rb.client
	if rb.useFallback {
		client = nil
	}
	rb.mu.Unlock()
	if client == nil {
		return
	}

	data, err := marshalMessage(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal Redis message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Publish(ctx, Subject(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to Redis")
		rb.handleFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()

	rb.logger.Debug().Str("event_type", string(eventType)).Msg("published event to Redis")
}

// Close closes the Redis connection.
func (rb *RedisBus) Close() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.client == nil {
		return nil
	}
	err := rb.client.Close()
	rb.client = nil
	rb.useFallback = true
	return err
}

func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.useFallback {
		rb.logger.Warn().
			Int("fail_count", rb.failCount).
			Msg("Redis failure threshold reached, switching to in-memory fallback")
		rb.useFallback = true
	}
}
