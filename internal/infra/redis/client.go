package redis

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "flowcore"

// Client wraps the Redis connection and the key layout of one keyspace.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	// Prefix namespaces every key so several keyspaces can share a server.
	Prefix string `yaml:"prefix"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newClient(rdb, cfg.Prefix), nil
}

func newClient(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers

// kvKey is the hash holding key's value (field v) and last write version
// (field ver). Keys are hex encoded so binary keys stay printable.
func (c *Client) kvKey(key []byte) string {
	return fmt.Sprintf("%s:kv:%s", c.prefix, hex.EncodeToString(key))
}

func (c *Client) versionKey() string {
	return fmt.Sprintf("%s:version", c.prefix)
}
