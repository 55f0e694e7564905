package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Client owns the connection used by the Redis cool-down backend
type Client struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

type ConnectionConfig struct {
	URL          string
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
}

// Options turns the config into go-redis options. URL settings such as the
// database number and password are kept.
func (c ConnectionConfig) Options() (*redis.Options, error) {
	opt, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.MaxRetries = c.MaxRetries
	opt.DialTimeout = c.DialTimeout
	opt.ReadTimeout = c.ReadTimeout
	opt.WriteTimeout = c.WriteTimeout
	opt.PoolSize = c.PoolSize
	opt.MinIdleConns = c.MinIdleConns
	return opt, nil
}

// NewClient connects and verifies the connection. A client that cannot be
// reached is closed before returning.
func NewClient(ctx context.Context, config ConnectionConfig, logger *logrus.Logger) (*Client, error) {
	opt, err := config.Options()
	if err != nil {
		return nil, err
	}

	client := &Client{
		rdb:    redis.NewClient(opt),
		logger: logger,
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.PingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx); err != nil {
		client.rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opt.Addr, err)
	}

	logger.WithFields(logrus.Fields{
		"addr": opt.Addr,
		"db":   opt.DB,
	}).Info("Connected to Redis")
	return client, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) GetRedisClient() *redis.Client {
	return c.rdb
}

// DefaultConnectionConfig returns settings sized for a single bot process,
// which issues at most a few commands per inbound message.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
		MinIdleConns: 1,
		PingTimeout:  5 * time.Second,
	}
}
