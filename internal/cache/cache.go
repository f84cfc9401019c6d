// Package cache provides a Redis-backed cache for flow snapshots.
//
// The cache is strictly an accelerator: every fault degrades to a miss and
// the caller reloads from the store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/convoflow/convoflow/internal/flow"
)

// DefaultTTL bounds how long a cached snapshot is kept. Snapshots are
// version-keyed so staleness only matters for deleted flows.
const DefaultTTL = 15 * time.Minute

// Opts holds configuration options for the flow cache.
type Opts struct {
	// Addr is the Redis host:port.
	Addr string
	// Password is the Redis password, empty for none.
	Password string
	// DB is the Redis database number.
	DB int
	// TTL is the snapshot expiry; DefaultTTL when zero.
	TTL time.Duration
}

// Option defines a configuration option for the flow cache.
type Option func(*Opts)

// WithAddr sets the Redis address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithPassword sets the Redis password.
func WithPassword(password string) Option {
	return func(o *Opts) { o.Password = password }
}

// WithDB sets the Redis database number.
func WithDB(db int) Option {
	return func(o *Opts) { o.DB = db }
}

// WithTTL sets the snapshot expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// FlowCache caches serialized flow snapshots in Redis, keyed by flow ID and
// version. It implements flow.SnapshotCache.
type FlowCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewFlowCache creates a flow cache based on provided options and verifies
// connectivity.
func NewFlowCache(opts ...Option) (*FlowCache, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	slog.Debug("FlowCache connected", "addr", cfg.Addr, "ttl", cfg.TTL)
	return &FlowCache{client: client, ttl: cfg.TTL}, nil
}

// GetSnapshot returns the cached snapshot for (flowID, version), or false on
// miss or fault.
func (c *FlowCache) GetSnapshot(flowID int64, version int) (*flow.FlowSnapshot, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := c.client.Get(ctx, snapshotKey(flowID, version)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		slog.Warn("FlowCache get failed", "flow_id", flowID, "error", err)
		return nil, false
	}

	var snap flow.FlowSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("FlowCache decode failed", "flow_id", flowID, "error", err)
		return nil, false
	}
	snap.Index()
	return &snap, true
}

// SetSnapshot stores the snapshot. Faults are logged and dropped.
func (c *FlowCache) SetSnapshot(snap *flow.FlowSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		slog.Warn("FlowCache encode failed", "flow_id", snap.Flow.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Set(ctx, snapshotKey(snap.Flow.ID, snap.Flow.Version), data, c.ttl).Err(); err != nil {
		slog.Warn("FlowCache set failed", "flow_id", snap.Flow.ID, "error", err)
	}
}

// Close releases the Redis connection.
func (c *FlowCache) Close() error {
	return c.client.Close()
}

func snapshotKey(flowID int64, version int) string {
	return fmt.Sprintf("flow:%d:v%d", flowID, version)
}
