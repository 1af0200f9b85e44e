package testutil

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewMiniredis starts an in-process Redis for the duration of the test.
func NewMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr
}

// Subscribe opens a separate connection to addr subscribed to channel. It returns once the
// subscription is confirmed, so messages published afterwards are not missed.
func Subscribe(ctx context.Context, t *testing.T, addr, channel string) *redis.PubSub {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr})
	sub := client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("failed to subscribe to %s: %v", channel, err)
	}
	t.Cleanup(func() {
		sub.Close()
		client.Close()
	})
	return sub
}
