// Package routing implements the Redis-backed pod-routing table named in
// SPEC_FULL.md §11: which gateway pod
// currently holds a charge point's live WebSocket, for a multi-pod
// send_command front door to consult. The in-memory internal/registry
// stays the sole authority over a Connection within one pod; this table is
// only ever read by a *different* pod deciding where to forward a command.
package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ocpp-csms/core/internal/config"
)

// Table is the Redis-backed chargePointID -> podID routing map.
type Table struct {
	client *redis.Client
	prefix string
}

func New(cfg config.RedisConfig) (*Table, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to routing redis at %s: %w", cfg.Addr, err)
	}

	return &Table{client: client, prefix: "route:"}, nil
}

func (t *Table) key(chargePointID string) string {
	return t.prefix + chargePointID
}

// Announce records that chargePointID's live Connection is held by podID,
// refreshed on every registration and heartbeat so the entry survives a
// crashed pod's TTL rather than lingering forever.
func (t *Table) Announce(ctx context.Context, chargePointID, podID string, ttl time.Duration) error {
	return t.client.Set(ctx, t.key(chargePointID), podID, ttl).Err()
}

// Lookup returns the pod currently holding chargePointID's Connection, or
// false if the routing table has no (or an expired) entry.
func (t *Table) Lookup(ctx context.Context, chargePointID string) (string, bool, error) {
	podID, err := t.client.Get(ctx, t.key(chargePointID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return podID, true, nil
}

// Withdraw removes chargePointID's routing entry, called when the
// registry's Unregister fires for the local Connection.
func (t *Table) Withdraw(ctx context.Context, chargePointID string) error {
	return t.client.Del(ctx, t.key(chargePointID)).Err()
}

func (t *Table) Close() error {
	return t.client.Close()
}
