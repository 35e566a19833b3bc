package notify

import (
	"context"
	"fmt"
	"time"

	"alertengine/config"
	"alertengine/internal/alert"

	goredis "github.com/go-redis/redis/v8"
)

// Publisher is the slice of the redis client used for pub/sub.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// RedisNotifier publishes one JSON message per trigger on a channel.
type RedisNotifier struct {
	client  Publisher
	channel string
}

func NewRedisNotifier(client Publisher, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

// DialRedis connects and pings the server.
func DialRedis(cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (n *RedisNotifier) Notify(ctx context.Context, triggers []alert.Trigger) error {
	for _, t := range triggers {
		payload, err := encode(t)
		if err != nil {
			return err
		}
		if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
			return fmt.Errorf("redis publish %s: %w", n.channel, err)
		}
	}
	return nil
}
