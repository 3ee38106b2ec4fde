package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocpp-csms/core/internal/domain/events"
	"github.com/ocpp-csms/core/internal/events/bus"
)

// fakeConn is a minimal registry.Conn double; Close records its reason and
// how many times it was called so tests can assert idempotence without a
// real websocket.
type fakeConn struct {
	id          string
	mu          sync.Mutex
	closed      int
	closeReason string
	lastFrame   time.Time
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, lastFrame: time.Now()}
}

func (f *fakeConn) ChargePointID() string { return f.id }
func (f *fakeConn) LastFrameAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFrame
}
func (f *fakeConn) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.closeReason = reason
	return nil
}

// publishingConn mirrors ws.Connection, whose Close publishes
// ChargePointDisconnected on the bus.
type publishingConn struct {
	*fakeConn
	b *bus.Bus
}

func (p *publishingConn) Close(reason string) error {
	p.b.Publish(events.NewEventFactory().CreateChargePointDisconnectedEvent(p.id, reason, events.Metadata{}))
	return p.fakeConn.Close(reason)
}

func TestRegisterAcceptsFirstConnection(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)
	conn := newFakeConn("CP1")
	outcome := r.Register(conn)
	assert.Equal(t, Accepted, outcome)

	got, ok := r.Lookup("CP1")
	assert.True(t, ok)
	assert.Equal(t, conn, got)
}

func TestRegisterDebouncesRapidReconnect(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectDebounce = time.Hour
	r := New(cfg, nil, nil)

	first := newFakeConn("CP1")
	require.Equal(t, Accepted, r.Register(first))

	second := newFakeConn("CP1")
	outcome := r.Register(second)
	assert.Equal(t, Debounced, outcome)

	// The original connection is still of record; the debounced one was
	// never installed and was never closed by the registry itself (that's
	// the caller's job on a Debounced outcome).
	got, _ := r.Lookup("CP1")
	assert.Equal(t, first, got)
	assert.Equal(t, 0, second.closed)
}

func TestRegisterReplacesAfterDebounceWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectDebounce = time.Millisecond
	r := New(cfg, nil, nil)

	first := newFakeConn("CP1")
	require.Equal(t, Accepted, r.Register(first))
	time.Sleep(5 * time.Millisecond)

	second := newFakeConn("CP1")
	outcome := r.Register(second)
	assert.Equal(t, Replaced, outcome)

	assert.Equal(t, 1, first.closed)
	assert.Equal(t, "replaced by new connection", first.closeReason)

	got, _ := r.Lookup("CP1")
	assert.Equal(t, second, got)
}

func TestRegisterWithNilBusNeverPublishes(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)
	// Register must not panic just because no bus was wired.
	assert.NotPanics(t, func() {
		r.Register(newFakeConn("CP1"))
	})
}

func TestRegisterPublishesConnectedThenDisconnectedBeforeReplacementConnected(t *testing.T) {
	b := bus.New(bus.DefaultConfig(), nil)
	sub := b.Subscribe("test")
	defer sub.Unsubscribe()

	cfg := DefaultConfig()
	cfg.ReconnectDebounce = 0
	r := New(cfg, nil, b)

	require.Equal(t, Accepted, r.Register(&publishingConn{fakeConn: newFakeConn("CP1"), b: b}))
	require.Equal(t, Replaced, r.Register(&publishingConn{fakeConn: newFakeConn("CP1"), b: b}))

	var seen []events.EventType
	for i := 0; i < 3; i++ {
		select {
		case evt := <-sub.Events():
			seen = append(seen, evt.GetType())
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d, got %v so far", i, seen)
		}
	}

	require.Len(t, seen, 3)
	assert.Equal(t, events.EventTypeChargePointConnected, seen[0])
	assert.Equal(t, events.EventTypeChargePointDisconnected, seen[1], "the evicted connection's Disconnected must precede the replacement's Connected")
	assert.Equal(t, events.EventTypeChargePointConnected, seen[2])
}

func TestUnregisterOnlyRemovesMatchingConnection(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)
	conn := newFakeConn("CP1")
	r.Register(conn)

	// A stale Unregister call from a connection that has already been
	// superseded must be a no-op.
	stale := newFakeConn("CP1")
	r.Unregister("CP1", stale)
	_, ok := r.Lookup("CP1")
	assert.True(t, ok, "unregister with a non-matching conn must not evict the current one")

	r.Unregister("CP1", conn)
	_, ok = r.Lookup("CP1")
	assert.False(t, ok)
}

func TestEvictStaleClosesOnlyExpiredConnections(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)
	stale := newFakeConn("stale")
	stale.lastFrame = time.Now().Add(-time.Hour)
	fresh := newFakeConn("fresh")

	r.Register(stale)
	r.Register(fresh)

	evicted := r.EvictStale(time.Now().Add(-time.Minute))
	assert.ElementsMatch(t, []string{"stale"}, evicted)
	assert.Equal(t, 1, stale.closed)
	assert.Equal(t, 0, fresh.closed)

	_, ok := r.Lookup("stale")
	assert.False(t, ok)
	_, ok = r.Lookup("fresh")
	assert.True(t, ok)
}

func TestCloseAllClosesEveryConnection(t *testing.T) {
	r := New(DefaultConfig(), nil, nil)
	a := newFakeConn("A")
	b := newFakeConn("B")
	r.Register(a)
	r.Register(b)

	r.CloseAll("shutdown")

	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
	assert.Equal(t, "shutdown", a.closeReason)
	assert.Empty(t, r.ConnectedIDs())
}

func TestStatsTracksDebounceAndReplaceCounts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectDebounce = time.Hour
	r := New(cfg, nil, nil)

	r.Register(newFakeConn("CP1"))
	r.Register(newFakeConn("CP1")) // debounced

	cfg2 := DefaultConfig()
	cfg2.ReconnectDebounce = 0
	r2 := New(cfg2, nil, nil)
	r2.Register(newFakeConn("CP2"))
	r2.Register(newFakeConn("CP2")) // replaced

	assert.Equal(t, uint64(1), r.Stats().DebounceRejects)
	assert.Equal(t, uint64(1), r2.Stats().Replaces)
}
