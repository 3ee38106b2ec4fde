// Package registry implements the session registry: the sharded
// chargePointId → Connection map that is the single authority over which
// Connection, if any, currently represents a given charge point.
package registry

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/ocpp-csms/core/internal/domain/events"
	"github.com/ocpp-csms/core/internal/events/bus"
	"github.com/ocpp-csms/core/internal/logger"
)

// Conn is the subset of transport.Connection the registry needs. Defined
// here (rather than importing internal/transport/ws) to keep the registry
// free of a dependency on the websocket transport — ws.Connection satisfies
// it.
type Conn interface {
	ChargePointID() string
	LastFrameAt() time.Time
	Close(reason string) error
}

// RegisterOutcome reports what happened to a register() call.
type RegisterOutcome int

const (
	// Accepted means no prior Connection existed for this chargePointId, or
	// the prior one was already closed; the new Connection is now of record.
	Accepted RegisterOutcome = iota
	// Debounced means a live Connection already exists and less than the
	// configured debounce window has passed since it registered; the new
	// Connection is rejected in favor of the existing one.
	Debounced
	// Replaced means a live Connection existed, the debounce window has
	// passed, and the new Connection has taken over; the old one is closed.
	Replaced
)

func (o RegisterOutcome) String() string {
	switch o {
	case Accepted:
		return "Accepted"
	case Debounced:
		return "Debounced"
	case Replaced:
		return "Replaced"
	default:
		return "Unknown"
	}
}

// entry is what a shard actually stores: the live Connection plus the time
// it was registered, which is what the debounce check compares against.
type entry struct {
	conn         Conn
	registeredAt time.Time
}

// Shard is one slice of the sharded map, each with its own lock so that
// concurrent register/unregister calls for different charge points never
// contend on a single mutex.
type Shard struct {
	mu   sync.RWMutex
	byID map[string]*entry
}

// Config controls registry-wide behavior.
type Config struct {
	ShardCount       int
	ReconnectDebounce time.Duration
	StaleAfter        time.Duration // not read by the registry; EvictStale takes its threshold from the caller
}

func DefaultConfig() Config {
	return Config{
		ShardCount:        64,
		ReconnectDebounce: 5 * time.Second,
		StaleAfter:        0, // liveness monitor supplies the real threshold per spec.md §4.G
	}
}

// Registry is the sharded session registry described in spec.md §4.C.
type Registry struct {
	config Config
	shards []*Shard
	logger *logger.Logger
	bus    *bus.Bus

	statsMu        sync.Mutex
	debounceRejects uint64
	replaces        uint64
}

// New constructs a Registry. eventBus may be nil, in which case Register
// never publishes — used by tests that only care about the map semantics.
func New(config Config, log *logger.Logger, eventBus *bus.Bus) *Registry {
	if config.ShardCount <= 0 {
		config.ShardCount = DefaultConfig().ShardCount
	}
	r := &Registry{
		config: config,
		shards: make([]*Shard, config.ShardCount),
		logger: log,
		bus:    eventBus,
	}
	for i := range r.shards {
		r.shards[i] = &Shard{byID: make(map[string]*entry)}
	}
	return r
}

func (r *Registry) shardFor(chargePointID string) *Shard {
	h := fnv.New32a()
	h.Write([]byte(chargePointID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Register attempts to make conn the connection of record for its
// ChargePointID(). The outcome determines whether the caller should proceed
// to serve the connection (Accepted, Replaced) or close it immediately
// (Debounced).
func (r *Registry) Register(conn Conn) RegisterOutcome {
	id := conn.ChargePointID()
	shard := r.shardFor(id)

	shard.mu.Lock()
	existing, ok := shard.byID[id]
	if !ok {
		shard.byID[id] = &entry{conn: conn, registeredAt: time.Now()}
		shard.mu.Unlock()
		r.publishConnected(id)
		return Accepted
	}

	if time.Since(existing.registeredAt) < r.config.ReconnectDebounce {
		shard.mu.Unlock()
		r.statsMu.Lock()
		r.debounceRejects++
		r.statsMu.Unlock()
		if r.logger != nil {
			r.logger.Warnf("registration debounced for %s: recent connection still within window", id)
		}
		return Debounced
	}

	shard.byID[id] = &entry{conn: conn, registeredAt: time.Now()}
	shard.mu.Unlock()

	r.statsMu.Lock()
	r.replaces++
	r.statsMu.Unlock()
	if r.logger != nil {
		r.logger.Infof("registration replaced prior connection for %s", id)
	}
	// Close the evicted Connection (which itself publishes
	// ChargePointDisconnected) before publishing Connected for the new one,
	// so observers always see Disconnected precede the Connected that
	// supersedes it.
	_ = existing.conn.Close("replaced by new connection")
	r.publishConnected(id)
	return Replaced
}

// publishConnected is a no-op when the registry has no bus wired, so tests
// that only exercise map semantics don't need one.
func (r *Registry) publishConnected(chargePointID string) {
	if r.bus == nil {
		return
	}
	factory := events.NewEventFactory()
	r.bus.Publish(factory.CreateChargePointConnectedEvent(chargePointID, events.ChargePointInfo{
		ID:       chargePointID,
		LastSeen: time.Now(),
	}, events.Metadata{Source: "registry"}))
}

// Unregister removes conn as the connection of record for id, but only if
// it is still the current entry — this makes Unregister safe to call from a
// Connection's own close path even after it has already been superseded by
// Replaced, without accidentally evicting the newer connection.
func (r *Registry) Unregister(id string, conn Conn) {
	shard := r.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if existing, ok := shard.byID[id]; ok && existing.conn == conn {
		delete(shard.byID, id)
	}
}

// Lookup returns the Connection of record for id, if any.
func (r *Registry) Lookup(id string) (Conn, bool) {
	shard := r.shardFor(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	e, ok := shard.byID[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// ConnectedIDs returns a snapshot of every registered chargePointId.
func (r *Registry) ConnectedIDs() []string {
	ids := make([]string, 0)
	for _, shard := range r.shards {
		shard.mu.RLock()
		for id := range shard.byID {
			ids = append(ids, id)
		}
		shard.mu.RUnlock()
	}
	return ids
}

// EvictStale closes and removes every Connection whose LastFrameAt is older
// than olderThan, returning the evicted chargePointIds. Called by the
// liveness monitor (spec.md §4.G), not on a registry-owned ticker, so the
// heartbeat interval / k-factor policy lives in one place.
func (r *Registry) EvictStale(olderThan time.Time) []string {
	var evicted []string
	var toClose []Conn
	for _, shard := range r.shards {
		shard.mu.Lock()
		for id, e := range shard.byID {
			if e.conn.LastFrameAt().Before(olderThan) {
				delete(shard.byID, id)
				evicted = append(evicted, id)
				toClose = append(toClose, e.conn)
			}
		}
		shard.mu.Unlock()
	}
	for _, conn := range toClose {
		_ = conn.Close("stale: no frame within liveness window")
	}
	return evicted
}

// Stats is the registry observability snapshot named in SPEC_FULL.md §12.
type Stats struct {
	ConnectionCount int
	OldestAge       time.Duration
	DebounceRejects uint64
	Replaces        uint64
}

func (r *Registry) Stats() Stats {
	var count int
	var oldest time.Duration
	now := time.Now()
	for _, shard := range r.shards {
		shard.mu.RLock()
		count += len(shard.byID)
		for _, e := range shard.byID {
			if age := now.Sub(e.registeredAt); age > oldest {
				oldest = age
			}
		}
		shard.mu.RUnlock()
	}
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return Stats{
		ConnectionCount: count,
		OldestAge:       oldest,
		DebounceRejects: r.debounceRejects,
		Replaces:        r.replaces,
	}
}

// CloseAll closes every registered Connection, used during graceful
// shutdown (SPEC_FULL.md §12) after new upgrades have stopped being
// accepted.
func (r *Registry) CloseAll(reason string) {
	for _, shard := range r.shards {
		shard.mu.Lock()
		entries := make([]*entry, 0, len(shard.byID))
		for _, e := range shard.byID {
			entries = append(entries, e)
		}
		shard.byID = make(map[string]*entry)
		shard.mu.Unlock()
		for _, e := range entries {
			_ = e.conn.Close(reason)
		}
	}
}
