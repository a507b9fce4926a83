package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeartbeatTTL is how long a worker health key lives without a refresh.
const HeartbeatTTL = 30 * time.Second

// Client defines the interface for interacting with the import queue.
type Client interface {
	// Push adds a job to the end of a queue (LPUSH).
	Push(ctx context.Context, queue string, job Job) error

	// Pop removes a job from the front of a queue (BRPOP), waiting up to
	// timeout. It returns nil, nil when the wait times out.
	Pop(ctx context.Context, queue string, timeout time.Duration) (*Job, error)

	// Len returns the number of pending jobs.
	Len(ctx context.Context, queue string) (int64, error)

	// Publish sends a result to a pub/sub channel.
	Publish(ctx context.Context, channel string, result JobResult) error

	// Subscribe returns a channel receiving results until ctx is done.
	Subscribe(ctx context.Context, channel string) (<-chan JobResult, error)

	// Heartbeat refreshes the health key of a worker.
	Heartbeat(ctx context.Context, queue, workerID string) error

	// GetWorkerCount returns the number of running workers for a queue.
	GetWorkerCount(ctx context.Context, queue string) (int, error)

	// IncrementWorkerCount increments the worker count for a queue.
	IncrementWorkerCount(ctx context.Context, queue string) error

	// DecrementWorkerCount decrements the worker count for a queue.
	DecrementWorkerCount(ctx context.Context, queue string) error

	// Ping verifies the Redis connection.
	Ping(ctx context.Context) error

	// Close closes the Redis connection.
	Close() error
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration
}

// RedisClient implements Client using go-redis/v9.
type RedisClient struct {
	client *redis.Client
}

var _ Client = (*RedisClient)(nil)

// NewRedisClient creates a new Redis queue client with the given options.
func NewRedisClient(opts RedisOptions) (*RedisClient, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Push adds a job to the end of a queue.
func (c *RedisClient) Push(ctx context.Context, queue string, job Job) error {
	if err := job.IsValid(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := c.client.LPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("failed to push to queue %s: %w", queue, err)
	}
	return nil
}

// Pop removes a job from the front of a queue, waiting up to timeout.
func (c *RedisClient) Pop(ctx context.Context, queue string, timeout time.Duration) (*Job, error) {
	// BRPOP returns [queue_name, value], or redis.Nil on timeout.
	result, err := c.client.BRPop(ctx, timeout, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from queue %s: %w", queue, err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP result length: %d", len(result))
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Len returns the number of pending jobs.
func (c *RedisClient) Len(ctx context.Context, queue string) (int64, error) {
	n, err := c.client.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get length of queue %s: %w", queue, err)
	}
	return n, nil
}

// Publish sends a result to a pub/sub channel.
func (c *RedisClient) Publish(ctx context.Context, channel string, result JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a subscription to a pub/sub channel.
func (c *RedisClient) Subscribe(ctx context.Context, channel string) (<-chan JobResult, error) {
	pubsub := c.client.Subscribe(ctx, channel)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", channel, err)
	}

	results := make(chan JobResult)

	go func() {
		defer close(results)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var result JobResult
				if err := json.Unmarshal([]byte(msg.Payload), &result); err != nil {
					continue
				}

				select {
				case results <- result:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return results, nil
}

// Heartbeat refreshes the health key of a worker with HeartbeatTTL.
func (c *RedisClient) Heartbeat(ctx context.Context, queue, workerID string) error {
	if err := c.client.Set(ctx, healthKey(queue, workerID), "ok", HeartbeatTTL).Err(); err != nil {
		return fmt.Errorf("failed to set heartbeat for worker %s: %w", workerID, err)
	}
	return nil
}

// GetWorkerCount returns the current worker count for a queue.
func (c *RedisClient) GetWorkerCount(ctx context.Context, queue string) (int, error) {
	countStr, err := c.client.Get(ctx, formatKeyName(queue, "workers")).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get worker count for queue %s: %w", queue, err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, fmt.Errorf("invalid worker count value: %w", err)
	}
	return count, nil
}

// IncrementWorkerCount increments the worker count for a queue.
func (c *RedisClient) IncrementWorkerCount(ctx context.Context, queue string) error {
	if err := c.client.Incr(ctx, formatKeyName(queue, "workers")).Err(); err != nil {
		return fmt.Errorf("failed to increment worker count for queue %s: %w", queue, err)
	}
	return nil
}

// DecrementWorkerCount decrements the worker count for a queue.
func (c *RedisClient) DecrementWorkerCount(ctx context.Context, queue string) error {
	if err := c.client.Decr(ctx, formatKeyName(queue, "workers")).Err(); err != nil {
		return fmt.Errorf("failed to decrement worker count for queue %s: %w", queue, err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}

func healthKey(queue, workerID string) string {
	return formatKeyName(queue, "health", workerID)
}

// formatKeyName joins key parts with ':'.
func formatKeyName(parts ...string) string {
	return strings.Join(parts, ":")
}
