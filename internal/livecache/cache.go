// Package livecache holds the Redis-backed live view of ACTIVE orders.
//
// Each active order has a JSON snapshot with a TTL, a participant set with the
// same TTL, and an entry in a geo index used for discovery. All pledge
// mutations go through a single server-side script so that concurrent pledges
// against one order are serialized; see pledge.go. The cache is authoritative
// for ACTIVE state, the durable store for terminal state.
package livecache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bundl-app/server/internal/config"
	"github.com/bundl-app/server/internal/metrics"
	"github.com/bundl-app/server/internal/orders"
)

// Cache wraps the Redis client with the order key family.
type Cache struct {
	rdb       *redis.Client
	namespace string
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// New connects to Redis and verifies the connection.
//
// It also attempts to enable keyspace expiry notifications, which the expiry
// watcher depends on. Managed Redis offerings often reject CONFIG SET; in
// that case the operator must enable "Ex" notifications out of band and the
// warning here is the only trace.
func New(cfg config.RedisConfig, m *metrics.Metrics, log zerolog.Logger) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout.Duration,
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
		PoolSize:     cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if err := rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		log.Warn().Err(err).Msg("could not enable keyspace notifications; expiry watcher needs 'Ex' set manually")
	}

	return &Cache{
		rdb:       rdb,
		namespace: cfg.Namespace,
		logger:    log.With().Str("component", "livecache").Logger(),
		metrics:   m,
	}, nil
}

// Client exposes the underlying connection for the expiry watcher.
func (c *Cache) Client() *redis.Client { return c.rdb }

// Namespace returns the configured key prefix.
func (c *Cache) Namespace() string { return c.namespace }

func (c *Cache) orderKey(orderID string) string {
	return c.namespace + ":order:" + orderID
}

func (c *Cache) participantsKey(orderID string) string {
	return c.orderKey(orderID) + ":participants"
}

func (c *Cache) geoKey() string {
	return c.namespace + ":orders:geo"
}

// Create installs the snapshot, participant set and geo entry for an order.
// The geo member is the snapshot key itself so the pledge script and Delete
// can remove it without re-deriving names.
func (c *Cache) Create(ctx context.Context, order *orders.Order, ttl time.Duration) error {
	defer metrics.MeasureCacheOp(c.metrics, "create")()

	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order snapshot: %w", err)
	}

	key := c.orderKey(order.ID)
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, key, raw, ttl)
	if participants := order.Participants(); len(participants) > 0 {
		members := make([]interface{}, len(participants))
		for i, p := range participants {
			members[i] = p
		}
		pipe.SAdd(ctx, c.participantsKey(order.ID), members...)
		pipe.PExpire(ctx, c.participantsKey(order.ID), ttl)
	}
	pipe.GeoAdd(ctx, c.geoKey(), &redis.GeoLocation{
		Name:      key,
		Longitude: order.Longitude,
		Latitude:  order.Latitude,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache order %s: %w", order.ID, err)
	}
	return nil
}

// Get returns the cached snapshot, or nil when the order is not live.
func (c *Cache) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	defer metrics.MeasureCacheOp(c.metrics, "get")()

	raw, err := c.rdb.Get(ctx, c.orderKey(orderID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order snapshot: %w", err)
	}
	var o orders.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decode order snapshot: %w", err)
	}
	if o.PledgeMap == nil {
		o.PledgeMap = map[string]float64{}
	}
	return &o, nil
}

// TTL reports the remaining lifetime of the snapshot.
// Returns zero when the order is not live.
func (c *Cache) TTL(ctx context.Context, orderID string) (time.Duration, error) {
	d, err := c.rdb.PTTL(ctx, c.orderKey(orderID)).Result()
	if err != nil {
		return 0, fmt.Errorf("order snapshot ttl: %w", err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Delete removes every trace of the order from the live view.
// Safe to call repeatedly; deleting an absent order is a no-op.
func (c *Cache) Delete(ctx context.Context, orderID string) error {
	defer metrics.MeasureCacheOp(c.metrics, "delete")()

	key := c.orderKey(orderID)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key, c.participantsKey(orderID))
	pipe.ZRem(ctx, c.geoKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("evict order %s: %w", orderID, err)
	}
	return nil
}

// FindNear returns the ACTIVE snapshots within radiusKm of the given point.
// Geo members whose snapshot has already expired are dropped from the index
// as they are encountered; the geo set has no TTL of its own.
func (c *Cache) FindNear(ctx context.Context, lat, lon, radiusKm float64) ([]*orders.Order, error) {
	defer metrics.MeasureCacheOp(c.metrics, "find_near")()

	if c.metrics != nil {
		c.metrics.GeoSearchesTotal.Inc()
	}

	members, err := c.rdb.GeoSearch(ctx, c.geoKey(), &redis.GeoSearchQuery{
		Longitude:  lon,
		Latitude:   lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}
	if len(members) == 0 {
		if c.metrics != nil {
			c.metrics.GeoSearchHits.Observe(0)
		}
		return nil, nil
	}

	raws, err := c.rdb.MGet(ctx, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch order snapshots: %w", err)
	}

	var (
		out   []*orders.Order
		stale []interface{}
	)
	for i, raw := range raws {
		if raw == nil {
			stale = append(stale, members[i])
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var o orders.Order
		if err := json.Unmarshal([]byte(s), &o); err != nil {
			c.logger.Warn().Err(err).Str("key", members[i]).Msg("undecodable order snapshot in geo index")
			continue
		}
		if o.Status != orders.StatusActive {
			continue
		}
		if o.PledgeMap == nil {
			o.PledgeMap = map[string]float64{}
		}
		out = append(out, &o)
	}

	if len(stale) > 0 {
		if err := c.rdb.ZRem(ctx, c.geoKey(), stale...).Err(); err != nil {
			c.logger.Warn().Err(err).Int("count", len(stale)).Msg("failed to prune stale geo entries")
		}
	}

	if c.metrics != nil {
		c.metrics.GeoSearchHits.Observe(float64(len(out)))
	}
	return out, nil
}

// Close releases the Redis connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// ParseExpiredKey extracts the order ID from an expired-key notification.
// Participant-set expirations and foreign keys return ok=false.
func ParseExpiredKey(namespace, key string) (string, bool) {
	prefix := namespace + ":order:"
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(key, prefix)
	if rest == "" || strings.Contains(rest, ":") {
		return "", false
	}
	return rest, true
}
