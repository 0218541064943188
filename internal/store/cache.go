package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leafsii/outcome-amm/internal/metrics"
)

// Cache is a JSON cache plus pub/sub. It talks to Redis when reachable and
// falls back to an in-process store and hub otherwise.
type Cache struct {
	client *redis.Client

	mem *memoryStore
	hub *PubSubHub

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewCache(addr string, logger *zap.SugaredLogger, metrics *metrics.Metrics) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if addr == "" {
		logger.Warnw("No Redis address configured; using in-memory cache")
		return NewMemoryCache(logger, metrics), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnw("Redis unavailable; using in-memory cache with local pubsub", "addr", addr, "error", err)
		_ = client.Close()
		return NewMemoryCache(logger, metrics), nil
	}

	return &Cache{
		client:  client,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// NewMemoryCache returns a cache that never leaves the process.
func NewMemoryCache(logger *zap.SugaredLogger, metrics *metrics.Metrics) *Cache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Cache{
		mem:     newMemoryStore(),
		hub:     NewPubSubHub(),
		logger:  logger,
		metrics: metrics,
	}
}

// Cache key prefixes
const (
	KeyMarketView = "amm:view:market"
)

// MarketViewTTL bounds how stale a cached view can get if an invalidation
// is lost.
const MarketViewTTL = 5 * time.Second

var ErrCacheMiss = errors.New("cache miss")

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	if c.client != nil {
		val, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				c.recordMiss(ctx, key)
				return ErrCacheMiss
			}
			c.logger.Errorw("Cache get error", "key", key, "error", err)
			return fmt.Errorf("cache get error: %w", err)
		}
		data = val
	} else {
		val, ok := c.mem.get(key)
		if !ok {
			c.recordMiss(ctx, key)
			return ErrCacheMiss
		}
		data = val
	}

	c.recordHit(ctx, key)
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if c.client != nil {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			c.logger.Errorw("Cache set error", "key", key, "error", err)
			return fmt.Errorf("cache set error: %w", err)
		}
		return nil
	}
	c.mem.set(key, data, ttl)
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if c.client != nil {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.logger.Errorw("Cache delete error", "keys", keys, "error", err)
			return fmt.Errorf("cache delete error: %w", err)
		}
		return nil
	}
	c.mem.del(keys...)
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if c.client != nil {
		count, err := c.client.Exists(ctx, key).Result()
		if err != nil {
			return false, fmt.Errorf("cache exists error: %w", err)
		}
		return count > 0, nil
	}
	_, ok := c.mem.get(key)
	return ok, nil
}

func marketViewKey(id uint64) string {
	return fmt.Sprintf("%s:%d", KeyMarketView, id)
}

func (c *Cache) GetMarketView(ctx context.Context, id uint64, dest interface{}) error {
	return c.Get(ctx, marketViewKey(id), dest)
}

func (c *Cache) SetMarketView(ctx context.Context, id uint64, value interface{}) error {
	return c.Set(ctx, marketViewKey(id), value, MarketViewTTL)
}

func (c *Cache) InvalidateMarket(ctx context.Context, id uint64) error {
	return c.Delete(ctx, marketViewKey(id))
}

// Publish JSON-encodes message onto channel.
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("pubsub marshal error: %w", err)
	}

	if c.client != nil {
		if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
			c.logger.Errorw("Publish error", "channel", channel, "error", err)
			return fmt.Errorf("pubsub publish error: %w", err)
		}
		return nil
	}

	c.hub.Publish(channel, string(data))
	return nil
}

// Subscribe delivers messages published on channels until ctx is done or
// the returned Subscription is closed. Both modes yield the same Message.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *Subscription {
	if c.client == nil {
		return c.hub.Subscribe(ctx, channels...)
	}

	pubsub := c.client.Subscribe(ctx, channels...)
	sub := newSubscription(channels)
	go func() {
		defer pubsub.Close()
		defer sub.Close()
		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.closeCh:
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				sub.deliver(&Message{Channel: msg.Channel, Payload: msg.Payload})
			}
		}
	}()
	return sub
}

// IsInMemoryMode reports whether Redis is bypassed.
func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.client != nil {
		return c.client.Ping(ctx).Err()
	}
	return nil
}

func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// metricKey drops the id suffix so per-market keys share one series.
func metricKey(key string) string {
	if i := strings.LastIndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

func (c *Cache) recordHit(ctx context.Context, key string) {
	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, metricKey(key))
	}
}

func (c *Cache) recordMiss(ctx context.Context, key string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(ctx, metricKey(key))
	}
}
