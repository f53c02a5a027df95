// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/LeeDigitalWorks/gasmeter/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisSourceName = "redis"

// RedisSource reports gas published on Redis Pub/Sub channels.
type RedisSource struct {
	client     *redis.Client
	ownsClient bool
	cfg        RedisConfig
	reporter   Reporter
	log        zerolog.Logger

	mu      sync.Mutex
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	closed  bool
}

// NewRedisSource connects to Redis and verifies the connection with a ping.
func NewRedisSource(cfg RedisConfig, r Reporter) (*RedisSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	s := NewRedisSourceWithClient(client, cfg, r)
	s.ownsClient = true
	return s, nil
}

// NewRedisSourceWithClient wraps an existing client. The caller keeps
// ownership of client.
func NewRedisSourceWithClient(client *redis.Client, cfg RedisConfig, r Reporter) *RedisSource {
	return &RedisSource{
		client:   client,
		cfg:      cfg,
		reporter: r,
		log:      logger.Component("source.redis"),
	}
}

// Name returns the source identifier.
func (s *RedisSource) Name() string {
	return redisSourceName
}

// Start subscribes to the configured channels and returns once Redis has
// confirmed the subscription. Messages are consumed in the background until
// ctx is done or Close is called.
func (s *RedisSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.closed {
		return ErrAlreadyStarted
	}

	pubsub := s.client.Subscribe(ctx, s.cfg.Channels...)
	// Wait for the confirmation so nothing published after Start is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.pubsub = pubsub
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	go s.consume(ctx, pubsub.Channel())

	s.log.Info().
		Str("addr", s.client.Options().Addr).
		Strs("channels", s.cfg.Channels).
		Msg("redis gas source subscribed")

	return nil
}

func (s *RedisSource) consume(ctx context.Context, messages <-chan *redis.Message) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := deliver(redisSourceName, s.reporter, []byte(msg.Payload)); err != nil {
				s.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed gas message")
			}
		}
	}
}

// Close unsubscribes and waits for the consumer goroutine to exit. It also
// closes the client when the source created it.
func (s *RedisSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.started {
		s.cancel()
		err = s.pubsub.Close()
		<-s.done
	}
	if s.ownsClient {
		if cerr := s.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
