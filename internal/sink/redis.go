package sink

import (
	"DeepTrace/internal/config"
	"DeepTrace/internal/model"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultRedisAddr    = "localhost:6379"
	defaultRedisChannel = "network_traffic"
)

func init() {
	Register("redis", NewRedisSink)
}

// RedisSink publishes every record on a Redis pub/sub channel.
type RedisSink struct {
	db      *redis.Client
	channel string
	log     logrus.FieldLogger
}

// NewRedisSink connects to Redis. Addr may be host:port or a redis:// URL.
func NewRedisSink(cfg config.SinkConfig, log logrus.FieldLogger) (model.Sink, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	channel := cfg.Topic
	if channel == "" {
		channel = defaultRedisChannel
	}

	db := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout(cfg))
	defer cancel()
	if err := db.Ping(ctx).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opts.Addr, err)
	}
	log.Infof("Connected to Redis server at %s, publishing on '%s'", opts.Addr, channel)
	return &RedisSink{db: db, channel: channel, log: log}, nil
}

func redisOptions(cfg config.SinkConfig) (*redis.Options, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = defaultRedisAddr
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: addr, Password: cfg.Password}, nil
}

func (s *RedisSink) Name() string { return "redis" }

// Write publishes the batch through a single pipeline round trip.
func (s *RedisSink) Write(ctx context.Context, flows []model.ExportedFlow) error {
	flows = deliverable(flows)
	if len(flows) == 0 {
		return nil
	}

	pipe := s.db.Pipeline()
	for _, f := range flows {
		pipe.Publish(ctx, s.channel, f.Payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &DeliveryError{Sink: s.Name(), Err: err}
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.db.Close()
}

func dialTimeout(cfg config.SinkConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return 5 * time.Second
}
