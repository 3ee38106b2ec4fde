// Package dispatcher implements the outbound command dispatcher: CS→CP
// send_command with uniqueId bookkeeping, a PendingCall parked on a
// buffered channel awaiting the matching CALLRESULT/CALLERROR, and a sweep
// that evicts calls past their deadline as a Timeout CommandError.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocpp-csms/core/internal/logger"
	"github.com/ocpp-csms/core/internal/ocpp/frame"
	"github.com/ocpp-csms/core/internal/ocpp/ocpperrors"
)

// Sender is the subset of ws.Connection the dispatcher needs to deliver a
// CALL; kept minimal so the dispatcher doesn't import the transport package.
type Sender interface {
	SendFrame(data []byte) error
}

// ConnectionLookup resolves a chargePointId to its live Sender, mirroring
// registry.Lookup without creating an import cycle back into registry.
type ConnectionLookup func(chargePointID string) (Sender, bool)

// Result is what a send_command call eventually resolves to.
type Result struct {
	Payload []byte // CALLRESULT payload, set only on success
	Err     error  // *ocpperrors.CommandError on failure, nil on success
}

// PendingCall is one outstanding CS→CP request awaiting its CALLRESULT or
// CALLERROR, grounded on the teacher's PendingRequest/ResponseChan pattern.
type PendingCall struct {
	UniqueID      string
	ChargePointID string
	Action        string
	CreatedAt     time.Time
	Deadline      time.Time
	resultCh      chan Result
}

// Config controls dispatcher-wide behavior.
type Config struct {
	DefaultTimeout  time.Duration
	SweepInterval   time.Duration
	MaxPendingCalls int
}

func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  30 * time.Second,
		SweepInterval:   5 * time.Second,
		MaxPendingCalls: 10000,
	}
}

// Dispatcher is the outbound command dispatcher described in spec.md §4.F.
type Dispatcher struct {
	config  Config
	lookup  ConnectionLookup
	logger  *logger.Logger

	mu      sync.Mutex
	pending map[string]*PendingCall

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// pendingKey composes the lookup key for the pending map. uniqueIds are
// only required to be unique per charge point (spec.md §5), so the key is
// scoped by chargePointID — two different CPs may legally reuse the same
// uniqueId without colliding.
func pendingKey(chargePointID, uniqueID string) string {
	return chargePointID + "\x00" + uniqueID
}

func New(config Config, lookup ConnectionLookup, log *logger.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		config:  config,
		lookup:  lookup,
		logger:  log,
		pending: make(map[string]*PendingCall),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the deadline-eviction sweep.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.sweepLoop()
}

// Stop evicts every still-pending call as Cancelled and stops the sweep.
// Called during graceful shutdown after the registry has broadcast-closed
// every Connection (SPEC_FULL.md §12).
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()

	d.mu.Lock()
	remaining := make([]*PendingCall, 0, len(d.pending))
	for id, pc := range d.pending {
		remaining = append(remaining, pc)
		delete(d.pending, id)
	}
	d.mu.Unlock()

	for _, pc := range remaining {
		pc.resultCh <- Result{Err: &ocpperrors.CommandError{Kind: ocpperrors.CommandErrorCancelled}}
		close(pc.resultCh)
	}
}

// SendCommand encodes action/payload as a CALL, delivers it to the charge
// point's Connection, and blocks until a CALLRESULT/CALLERROR arrives, the
// per-call timeout elapses, the connection is found to be gone, or ctx is
// cancelled by the caller.
func (d *Dispatcher) SendCommand(ctx context.Context, chargePointID, action string, payload interface{}, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = d.config.DefaultTimeout
	}

	sender, ok := d.lookup(chargePointID)
	if !ok {
		return Result{Err: &ocpperrors.CommandError{Kind: ocpperrors.CommandErrorDisconnected}}
	}

	uniqueID := uuid.NewString()
	data, err := frame.EncodeCall(uniqueID, action, payload)
	if err != nil {
		return Result{Err: &ocpperrors.InternalError{Cause: err}}
	}

	pc := &PendingCall{
		UniqueID:      uniqueID,
		ChargePointID: chargePointID,
		Action:        action,
		CreatedAt:     time.Now(),
		Deadline:      time.Now().Add(timeout),
		resultCh:      make(chan Result, 1),
	}

	key := pendingKey(chargePointID, uniqueID)

	d.mu.Lock()
	d.pending[key] = pc
	d.mu.Unlock()

	if err := sender.SendFrame(data); err != nil {
		d.mu.Lock()
		delete(d.pending, key)
		d.mu.Unlock()
		if _, ok := err.(*ocpperrors.BackpressureError); ok {
			return Result{Err: err}
		}
		return Result{Err: &ocpperrors.CommandError{Kind: ocpperrors.CommandErrorDisconnected}}
	}

	select {
	case res := <-pc.resultCh:
		return res
	case <-time.After(timeout):
		d.mu.Lock()
		delete(d.pending, key)
		d.mu.Unlock()
		return Result{Err: &ocpperrors.CommandError{Kind: ocpperrors.CommandErrorTimeout}}
	case <-ctx.Done():
		d.mu.Lock()
		delete(d.pending, key)
		d.mu.Unlock()
		return Result{Err: &ocpperrors.CommandError{Kind: ocpperrors.CommandErrorCancelled}}
	}
}

// Disconnect resolves every call still pending for chargePointID as
// CommandError::Disconnected, instead of leaving them to wait out the full
// timeout. Called from the Connection's own close path (registry replace,
// liveness eviction, peer-initiated disconnect, graceful shutdown) so a
// send_command caller finds out as soon as the socket is actually gone.
func (d *Dispatcher) Disconnect(chargePointID string) {
	prefix := chargePointID + "\x00"
	d.mu.Lock()
	var affected []*PendingCall
	for key, pc := range d.pending {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			affected = append(affected, pc)
			delete(d.pending, key)
		}
	}
	d.mu.Unlock()

	for _, pc := range affected {
		pc.resultCh <- Result{Err: &ocpperrors.CommandError{Kind: ocpperrors.CommandErrorDisconnected}}
	}
}

// Resolve is called by the frame-routing layer when a CALLRESULT/CALLERROR
// arrives from chargePointID for uniqueID. Returns false if there was no
// matching PendingCall (already timed out, already resolved, or a CP
// sending a bogus uniqueId).
func (d *Dispatcher) Resolve(chargePointID, uniqueID string, payload []byte) bool {
	key := pendingKey(chargePointID, uniqueID)
	d.mu.Lock()
	pc, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	pc.resultCh <- Result{Payload: payload}
	return true
}

// ResolveError is called when the CP replies with a CALLERROR.
func (d *Dispatcher) ResolveError(chargePointID, uniqueID, code, description string) bool {
	key := pendingKey(chargePointID, uniqueID)
	d.mu.Lock()
	pc, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	pc.resultCh <- Result{Err: &ocpperrors.CommandError{
		Kind:       ocpperrors.CommandErrorRemote,
		RemoteCode: code,
		RemoteDesc: description,
	}}
	return true
}

// PendingCount reports how many calls are currently in flight, used by the
// metrics layer.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) sweepLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.evictExpired()
		}
	}
}

func (d *Dispatcher) evictExpired() {
	now := time.Now()
	var expired []*PendingCall
	d.mu.Lock()
	for id, pc := range d.pending {
		if now.After(pc.Deadline) {
			expired = append(expired, pc)
			delete(d.pending, id)
		}
	}
	d.mu.Unlock()

	for _, pc := range expired {
		if d.logger != nil {
			d.logger.Warnf("command %s (%s) timed out for charge point %s", pc.UniqueID, pc.Action, pc.ChargePointID)
		}
		pc.resultCh <- Result{Err: &ocpperrors.CommandError{Kind: ocpperrors.CommandErrorTimeout}}
	}
}
