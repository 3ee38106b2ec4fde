// Package liveness implements the heartbeat/liveness monitor described in
// spec.md §4.G: a periodic sweep that evicts any Connection that has gone
// quiet for longer than heartbeat_interval × k_factor.
package liveness

import (
	"context"
	"sync"
	"time"

	"github.com/ocpp-csms/core/internal/logger"
)

// Evictor is the subset of registry.Registry the monitor needs.
type Evictor interface {
	EvictStale(olderThan time.Time) []string
}

// OfflineMarker is called once per evicted chargePointId so the protocol
// state machine can mark the ChargePoint offline and its Connectors
// Unavailable, per spec.md §4.G's note that eviction is not just a
// transport-layer event.
type OfflineMarker func(chargePointID string)

// Config controls sweep cadence and the staleness threshold.
type Config struct {
	HeartbeatInterval time.Duration
	KFactor           int
	SweepInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 300 * time.Second,
		KFactor:           3,
		SweepInterval:     30 * time.Second,
	}
}

// StaleThreshold is the duration of silence after which a Connection is
// evicted: heartbeat_interval * k_factor.
func (c Config) StaleThreshold() time.Duration {
	return time.Duration(c.KFactor) * c.HeartbeatInterval
}

// Monitor runs the sweep goroutine.
type Monitor struct {
	config  Config
	evictor Evictor
	onOffline OfflineMarker
	logger  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(config Config, evictor Evictor, onOffline OfflineMarker, log *logger.Logger) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		config:    config,
		evictor:   evictor,
		onOffline: onOffline,
		logger:    log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the sweep loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.sweepLoop()
}

// Stop halts the sweep loop and waits for it to exit. Called before the
// registry broadcasts its own close, per SPEC_FULL.md §12's shutdown
// ordering — a stopped monitor cannot race the shutdown's own close with an
// eviction-triggered close of the same Connection.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	threshold := time.Now().Add(-m.config.StaleThreshold())
	evicted := m.evictor.EvictStale(threshold)
	for _, id := range evicted {
		if m.logger != nil {
			m.logger.Warnf("connection evicted for %s: no frame within liveness window", id)
		}
		if m.onOffline != nil {
			m.onOffline(id)
		}
	}
}
