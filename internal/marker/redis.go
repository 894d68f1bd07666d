package marker

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"

	"github.com/thebtf/hwrsync/pkg/models"
)

// DefaultChannelPrefix prefixes the stream name to form the pub/sub channel.
const DefaultChannelPrefix = "hwr:markers:"

// RedisPublisher publishes marker events with Redis PUBLISH, one channel per
// stream.
type RedisPublisher struct {
	pool   *redis.Pool
	prefix string
	source string
}

// NewRedisPublisher dials url lazily through a small pool.
func NewRedisPublisher(url, source string) *RedisPublisher {
	pool := &redis.Pool{
		MaxIdle:     2,
		MaxActive:   4,
		IdleTimeout: time.Minute,
		Wait:        false,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialURLContext(ctx, url,
				redis.DialConnectTimeout(time.Second),
				redis.DialWriteTimeout(time.Second),
				redis.DialReadTimeout(time.Second))
		},
	}
	return NewRedisPublisherWithPool(pool, source)
}

// NewRedisPublisherWithPool uses an existing pool.
func NewRedisPublisherWithPool(pool *redis.Pool, source string) *RedisPublisher {
	return &RedisPublisher{pool: pool, prefix: DefaultChannelPrefix, source: source}
}

// Channel returns the pub/sub channel of a stream.
func (p *RedisPublisher) Channel(stream string) string {
	return p.prefix + stream
}

// Emit implements Emitter.
func (p *RedisPublisher) Emit(ctx context.Context, m models.Marker) error {
	data, err := json.Marshal(NewEvent(p.source, m))
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}

	conn, err := p.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	if _, err := redis.Int(conn.Do("PUBLISH", p.Channel(m.Stream), data)); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.Channel(m.Stream), err)
	}
	return nil
}

// Close releases pooled connections.
func (p *RedisPublisher) Close() error {
	return p.pool.Close()
}
