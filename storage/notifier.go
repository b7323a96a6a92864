package storage

import (
	"context"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// redisNotifier carries collection change signals between processes over
// Redis pub/sub. One channel per collection path; the payload is the path
// itself, subscribers re-fetch the collection rather than trusting it.
type redisNotifier struct {
	rc     *redis.Client
	prefix string
}

const defaultChannelPrefix = "notepad:changes:"

func newRedisNotifier(rc *redis.Client, prefix string) *redisNotifier {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &redisNotifier{rc: rc, prefix: prefix}
}

func (n *redisNotifier) channel(collection string) string {
	return n.prefix + collection
}

// Publish signals a change to the given collection. Failures are logged,
// not returned: the write already succeeded and subscribers recover on
// the next change.
func (n *redisNotifier) Publish(ctx context.Context, collection string) {
	if err := n.rc.Publish(ctx, n.channel(collection), collection).Err(); err != nil {
		log.WithField("collection", collection).Errorf("publish change: %v", err)
	}
}

// Watch returns a coalesced change-signal channel for the collection and
// a stop function releasing the underlying pub/sub subscription.
func (n *redisNotifier) Watch(ctx context.Context, collection string) (<-chan struct{}, func()) {
	sub := n.rc.Subscribe(ctx, n.channel(collection))
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for range sub.Channel() {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, func() { _ = sub.Close() }
}
