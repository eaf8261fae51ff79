package redisx

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danghamo/techtrack/pkg/logger"
)

// Client wraps redis.Client with additional functionality
type Client struct {
	*redis.Client
	url       string
	keyPrefix string
	logger    *logger.Logger
}

// ClientOption represents an option for creating a new Redis client
type ClientOption func(*clientOptions)

type clientOptions struct {
	usePrivateDB bool
	keyPrefix    string
	pingTimeout  time.Duration
}

// WithPrivate enables private DB isolation for development environments.
// A DB number is assigned per hostname and remembered in DB 0.
func WithPrivate() ClientOption {
	return func(opts *clientOptions) {
		opts.usePrivateDB = true
	}
}

// WithKeyPrefix namespaces every key built through Key
func WithKeyPrefix(prefix string) ClientOption {
	return func(opts *clientOptions) {
		opts.keyPrefix = strings.TrimSuffix(prefix, ":")
	}
}

// WithPingTimeout bounds the connectivity check done by NewClient
func WithPingTimeout(d time.Duration) ClientOption {
	return func(opts *clientOptions) {
		opts.pingTimeout = d
	}
}

// NewClient creates a new Redis client from URL with options
func NewClient(redisURL string, log *logger.Logger, opts ...ClientOption) (*Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL cannot be empty")
	}

	if log == nil {
		log = logger.GetGlobalLogger()
	}

	options := &clientOptions{pingTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(options)
	}

	finalURL := redisURL
	if options.usePrivateDB {
		var err error
		finalURL, err = PrivateUrl(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get private URL: %w", err)
		}
	}

	redisOptions, err := redis.ParseURL(finalURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := &Client{
		Client:    redis.NewClient(redisOptions),
		url:       finalURL,
		keyPrefix: options.keyPrefix,
		logger:    log.WithComponent("redisx"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), options.pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logFields := []zap.Field{
		zap.String("addr", redisOptions.Addr),
		zap.Int("db", redisOptions.DB),
		zap.Int("pool_size", redisOptions.PoolSize),
	}
	if options.usePrivateDB {
		logFields = append(logFields, zap.Bool("private_db", true))
	}
	if client.keyPrefix != "" {
		logFields = append(logFields, zap.String("key_prefix", client.keyPrefix))
	}

	client.logger.Info("Redis client connected successfully", logFields...)

	return client, nil
}

// Key joins parts with ':' under the configured prefix
func (c *Client) Key(parts ...string) string {
	if c.keyPrefix == "" {
		return strings.Join(parts, ":")
	}
	return c.keyPrefix + ":" + strings.Join(parts, ":")
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")
	return c.Client.Close()
}

// HealthCheck performs a health check on the Redis connection
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := c.Ping(ctx).Err()
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("Redis health check failed",
			zap.Error(err),
			zap.Duration("duration", duration),
		)
		return err
	}

	c.logger.Debug("Redis health check passed",
		zap.Duration("duration", duration),
	)

	return nil
}

// PrivateUrl provides development isolation by assigning unique DB numbers based on hostname.
// DB 0 holds the hostname->DB mapping.
func PrivateUrl(redisURL string) (string, error) {
	if redisURL == "" {
		return "", fmt.Errorf("redis URL cannot be empty")
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	return privateUrlWithHostname(redisURL, hostname)
}

func privateUrlWithHostname(redisURL, hostname string) (string, error) {
	if redisURL == "" {
		return "", fmt.Errorf("redis URL cannot be empty")
	}

	if hostname == "" {
		return "", fmt.Errorf("hostname cannot be empty")
	}

	parsedURL, err := url.Parse(redisURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	db0URL := *parsedURL
	db0URL.Path = "/0"

	options, err := redis.ParseURL(db0URL.String())
	if err != nil {
		return "", fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(options)
	defer rdb.Close()

	ctx := context.Background()

	dbNumber, err := rdb.HGet(ctx, "private_db", hostname).Result()
	if err == redis.Nil {
		// DB 0 is reserved for management, counter starts handing out 1
		nextDB, err := rdb.HIncrBy(ctx, "private_db:counter", "next", 1).Result()
		if err != nil {
			return "", fmt.Errorf("failed to get next DB number: %w", err)
		}

		if err := rdb.HSet(ctx, "private_db", hostname, nextDB).Err(); err != nil {
			return "", fmt.Errorf("failed to assign DB to hostname: %w", err)
		}

		dbNumber = strconv.FormatInt(nextDB, 10)
	} else if err != nil {
		return "", fmt.Errorf("failed to check existing DB assignment: %w", err)
	}

	newURL := *parsedURL
	newURL.Path = "/" + dbNumber

	return newURL.String(), nil
}
