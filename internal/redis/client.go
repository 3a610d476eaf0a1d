package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// SignalChannel is the per-user pub/sub topic carrying both the ephemeral
// call hints and the session change feed.
func SignalChannel(userID string) string {
	return fmt.Sprintf("calls:signal:%s", userID)
}

// PresenceKey is the per-user hash holding {online, last_seen}.
func PresenceKey(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}
