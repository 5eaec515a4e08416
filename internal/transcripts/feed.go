package transcripts

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Feed delivers raw transcript messages in order. The returned channel is
// closed when ctx ends or the underlying subscription stops.
type Feed interface {
	Messages(ctx context.Context) (<-chan []byte, error)
}

// RedisFeed consumes a Redis pub/sub channel. Every instance subscribed to the
// channel sees every message, which is why ingestion needs leadership and dedup.
type RedisFeed struct {
	rdb     *redis.Client
	channel string
}

func NewRedisFeed(rdb *redis.Client, channel string) *RedisFeed {
	return &RedisFeed{rdb: rdb, channel: channel}
}

func (f *RedisFeed) Messages(ctx context.Context) (<-chan []byte, error) {
	ps := f.rdb.Subscribe(ctx, f.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", f.channel, err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// ChanFeed adapts an in-process channel to Feed.
type ChanFeed chan []byte

func (f ChanFeed) Messages(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-f:
				if !ok {
					return
				}
				select {
				case out <- b:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
