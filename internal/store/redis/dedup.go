package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Dedup keeps processed webhook message IDs in Redis with a TTL, so a
// multi-replica deployment shares one dedup set without table churn.
type Dedup struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDedup(url string, ttl time.Duration) (*Dedup, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = 800 * time.Millisecond
	opts.ReadTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 500 * time.Millisecond

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Dedup{client: client, ttl: ttl}, nil
}

func (d *Dedup) SeenMessage(ctx context.Context, msgID string) (bool, error) {
	n, err := d.client.Exists(ctx, key(msgID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *Dedup) MarkMessageSeen(ctx context.Context, msgID string) error {
	return d.client.Set(ctx, key(msgID), 1, d.ttl).Err()
}

// PurgeMessagesBefore is a no-op: Redis expires keys on its own.
func (d *Dedup) PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (d *Dedup) Close() error {
	return d.client.Close()
}

func key(msgID string) string {
	return "dedup:msg:" + msgID
}
