package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannel prefixes the per-version Redis channels.
const DefaultChannel = "docversions"

// Compile-time interface compliance check.
var _ Publisher = (*RedisBus)(nil)

// RedisBus carries structured-mode CloudEvents over Redis pub/sub, one
// channel per version.
type RedisBus struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedisBus connects to addr and verifies the connection.
func NewRedisBus(ctx context.Context, addr, prefix string) (*RedisBus, error) {
	if addr == "" {
		return nil, errors.New("missing REDIS_ADDR")
	}
	if prefix == "" {
		prefix = DefaultChannel
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBus{rdb: rdb, prefix: prefix}, nil
}

// Channel returns the Redis channel events about versionID are sent on.
func (b *RedisBus) Channel(versionID string) string {
	return b.prefix + ":" + versionID
}

// Publish implements Publisher. The event subject names the version.
func (b *RedisBus) Publish(ctx context.Context, e cloudevents.Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.Channel(e.Subject()), raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe calls onEvent for every event about versionID until ctx is done
// or onEvent returns false.
func (b *RedisBus) Subscribe(ctx context.Context, versionID string, onEvent func(cloudevents.Event) bool) error {
	sub := b.rdb.Subscribe(ctx, b.Channel(versionID))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var e cloudevents.Event
			if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
				slog.Warn("Skipping malformed event payload.", "channel", m.Channel, "error", err)
				continue
			}
			if !onEvent(e) {
				return nil
			}
		}
	}
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
