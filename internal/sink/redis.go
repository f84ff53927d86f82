package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"flowmap-stream-go/internal/client"
)

type setter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type imageMeta struct {
	Session  string    `json:"session"`
	Sequence uint64    `json:"sequence"`
	Format   string    `json:"format"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	At       time.Time `json:"at"`
}

// RedisLatest keeps the newest encoded image of each class in Redis under
// <prefix><class> with a TTL, plus a JSON description under <prefix><class>:meta
// and the connection state under <prefix>connected.
type RedisLatest struct {
	client setter
	closer func() error
	prefix string
	ttl    time.Duration
}

func NewRedisLatest(opts *redis.Options, prefix string, ttl time.Duration) *RedisLatest {
	rdb := redis.NewClient(opts)
	return &RedisLatest{client: rdb, closer: rdb.Close, prefix: prefix, ttl: ttl}
}

func (r *RedisLatest) Name() string {
	return "redis"
}

func (r *RedisLatest) Handle(ctx context.Context, ev client.Event) error {
	switch ev.Kind {
	case client.EventImageReceived:
		if ev.Image == nil {
			return nil
		}
		key := r.prefix + ev.Class.String()
		if err := r.client.Set(ctx, key, ev.Image.Encoded, r.ttl).Err(); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		meta, err := json.Marshal(imageMeta{
			Session:  ev.Session,
			Sequence: ev.Sequence,
			Format:   ev.Image.Format,
			Width:    ev.Image.Width,
			Height:   ev.Image.Height,
			At:       ev.At,
		})
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		return r.client.Set(ctx, key+":meta", meta, r.ttl).Err()
	case client.EventConnectionChanged:
		state := "0"
		if ev.Connected {
			state = "1"
		}
		return r.client.Set(ctx, r.prefix+"connected", state, 0).Err()
	}
	return nil
}

func (r *RedisLatest) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
