// Package statemachine implements the protocol state machine described in
// spec.md §4.D: per-ChargePoint Booting/Accepted/Rejected/Pending, the
// per-Connector OCPP status graph, and the transaction lifecycle with its
// strictly monotonic transactionId and ConcurrentTx refusal.
//
// Grounded on internal/business/chargepoint/manager.go (ChargePoint/
// Connector shapes, per-entity locking, status-change event publication)
// and internal/business/transaction/manager.go (the activeTransactions
// map keyed by "chargePointID-connectorID" for the ConcurrentTx check, and
// the idMutex-guarded monotonic allocator — this replaces the gateway
// processor's int(time.Now().Unix()) transactionId, which is not
// monotonic under concurrent StartTransaction calls).
package statemachine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ocpp-csms/core/internal/domain/events"
	"github.com/ocpp-csms/core/internal/events/bus"
	"github.com/ocpp-csms/core/internal/logger"
	"github.com/ocpp-csms/core/internal/ocpp/ocpperrors"
	"github.com/ocpp-csms/core/internal/ports"
)

// ChargePointStatus is the per-CP registration status (spec.md §4.D).
type ChargePointStatus string

const (
	Booting  ChargePointStatus = "Booting"
	Accepted ChargePointStatus = "Accepted"
	Rejected ChargePointStatus = "Rejected"
	Pending  ChargePointStatus = "Pending"
	Offline  ChargePointStatus = "Offline"
)

// ConnectorStatus is the OCPP connector status graph (spec.md §4.D).
type ConnectorStatus string

const (
	Available     ConnectorStatus = "Available"
	Preparing     ConnectorStatus = "Preparing"
	Charging      ConnectorStatus = "Charging"
	SuspendedEVSE ConnectorStatus = "SuspendedEVSE"
	SuspendedEV   ConnectorStatus = "SuspendedEV"
	Finishing     ConnectorStatus = "Finishing"
	Reserved      ConnectorStatus = "Reserved"
	ConnUnavailable ConnectorStatus = "Unavailable"
	Faulted       ConnectorStatus = "Faulted"
)

// TransactionStatus tracks a transaction to its terminal state.
type TransactionStatus string

const (
	TxActive      TransactionStatus = "Active"
	TxCompleted   TransactionStatus = "Completed"
	TxForceClosed TransactionStatus = "ForceClosed" // spec.md §9 force_stop_transaction resolution
	TxFailed      TransactionStatus = "Failed"
)

// ChargePoint is the in-memory authoritative record for one charge point.
type ChargePoint struct {
	mu              sync.RWMutex
	ID              string
	Vendor          string
	Model           string
	SerialNumber    string
	FirmwareVersion string
	Status          ChargePointStatus
	HeartbeatInterval time.Duration
	ConnectedAt     time.Time
	LastSeen        time.Time
}

// Connector is the in-memory authoritative record for one connector.
type Connector struct {
	mu            sync.RWMutex
	ChargePointID string
	ID            int
	Status        ConnectorStatus
	ErrorCode     string
	UpdatedAt     time.Time
}

// Transaction is the in-memory authoritative record for a charging session.
type Transaction struct {
	mu            sync.RWMutex
	ID            int
	ChargePointID string
	ConnectorID   int
	IdTag         string
	MeterStart    int
	MeterStop     int
	EnergyWh      int
	StartedAt     time.Time
	StoppedAt     time.Time
	Status        TransactionStatus
	StopReason    string
}

// Deps bundles the repository ports and collaborators the state machine
// calls out to; every field is optional — a nil Bus means nothing is
// published, and a nil repository degrades that operation to
// in-memory-only behavior, useful for tests.
type Deps struct {
	ChargePoints ports.ChargePointRepository
	Connectors   ports.ConnectorRepository
	Transactions ports.TransactionRepository
	IdTags       ports.IdTagRepository
	Billing      ports.BillingService
	Bus          *bus.Bus
	Logger       *logger.Logger
}

// Machine is the protocol state machine.
type Machine struct {
	deps Deps

	mu           sync.RWMutex
	chargePoints map[string]*ChargePoint
	connectors   map[string]*Connector // key: "cpID-connectorID"

	txMu              sync.RWMutex
	transactions      map[int]*Transaction
	activeByConnector map[string]*Transaction // key: "cpID-connectorID", the ConcurrentTx guard

	idMu              sync.Mutex
	nextTransactionID int
}

func New(deps Deps) *Machine {
	return &Machine{
		deps:              deps,
		chargePoints:      make(map[string]*ChargePoint),
		connectors:        make(map[string]*Connector),
		transactions:      make(map[int]*Transaction),
		activeByConnector: make(map[string]*Transaction),
		nextTransactionID: 1,
	}
}

func connectorKey(chargePointID string, connectorID int) string {
	return fmt.Sprintf("%s-%d", chargePointID, connectorID)
}

func (m *Machine) publish(evt events.Event) {
	if m.deps.Bus != nil {
		m.deps.Bus.Publish(evt)
	}
}

func eventMetadata() events.Metadata {
	return events.Metadata{Source: "statemachine"}
}

func (m *Machine) warnf(format string, args ...interface{}) {
	if m.deps.Logger != nil {
		m.deps.Logger.Warnf(format, args...)
	}
}

// BootNotification upserts the ChargePoint and returns Accepted with its
// heartbeat interval, per spec.md §4.E.
func (m *Machine) BootNotification(ctx context.Context, chargePointID, vendor, model, serial, firmware string, heartbeatInterval time.Duration) (*ChargePoint, error) {
	m.mu.Lock()
	cp, ok := m.chargePoints[chargePointID]
	if !ok {
		cp = &ChargePoint{ID: chargePointID}
		m.chargePoints[chargePointID] = cp
	}
	m.mu.Unlock()

	cp.mu.Lock()
	cp.Vendor = vendor
	cp.Model = model
	cp.SerialNumber = serial
	cp.FirmwareVersion = firmware
	cp.Status = Accepted
	cp.HeartbeatInterval = heartbeatInterval
	cp.ConnectedAt = time.Now()
	cp.LastSeen = time.Now()
	cp.mu.Unlock()

	if m.deps.ChargePoints != nil {
		if err := m.deps.ChargePoints.Upsert(ctx, ports.ChargePointRecord{
			ID: chargePointID, Vendor: vendor, Model: model, SerialNumber: serial,
			FirmwareVersion: firmware, RegisteredAt: time.Now(), LastSeenAt: time.Now(),
		}); err != nil {
			return nil, &ocpperrors.InternalError{Cause: err}
		}
	}

	m.publish(&events.ChargePointRegisteredEvent{
		BaseEvent: events.NewBaseEvent(events.EventTypeChargePointRegistered, chargePointID, events.EventSeverityInfo, eventMetadata()),
		ChargePointInfo: events.ChargePointInfo{
			ID: chargePointID, Vendor: vendor, Model: model,
			SerialNumber: strPtr(serial), FirmwareVersion: strPtr(firmware),
			LastSeen: time.Now(),
		},
		Interval: int(heartbeatInterval.Seconds()),
	})
	return cp, nil
}

func strPtr(s string) *string { return &s }

// Heartbeat updates last-seen for chargePointID.
func (m *Machine) Heartbeat(ctx context.Context, chargePointID string) error {
	m.mu.RLock()
	cp, ok := m.chargePoints[chargePointID]
	m.mu.RUnlock()
	if !ok {
		return &ocpperrors.ProtocolError{Reason: "heartbeat from unregistered charge point"}
	}
	cp.mu.Lock()
	cp.LastSeen = time.Now()
	cp.mu.Unlock()
	if m.deps.ChargePoints != nil {
		return mapInternalErr(m.deps.ChargePoints.MarkSeen(ctx, chargePointID, time.Now()))
	}
	return nil
}

// Touch marks a charge point as alive on any inbound frame, independent of
// Heartbeat, per spec.md §4.D.
func (m *Machine) Touch(chargePointID string) {
	m.mu.RLock()
	cp, ok := m.chargePoints[chargePointID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	cp.mu.Lock()
	cp.LastSeen = time.Now()
	cp.mu.Unlock()
}

// Authorize resolves an idTag's status; never fails per spec.md §4.E.
func (m *Machine) Authorize(ctx context.Context, idTag string) (ports.IdTagStatus, error) {
	if m.deps.IdTags == nil {
		return ports.IdTagAccepted, nil
	}
	status, err := m.deps.IdTags.Authorize(ctx, idTag)
	if err != nil {
		return ports.IdTagInvalid, nil
	}
	return status, nil
}

// StatusNotification upserts connector status and publishes
// ConnectorStatusChanged.
func (m *Machine) StatusNotification(ctx context.Context, chargePointID string, connectorID int, status ConnectorStatus, errorCode string) error {
	key := connectorKey(chargePointID, connectorID)
	m.mu.Lock()
	conn, ok := m.connectors[key]
	if !ok {
		conn = &Connector{ChargePointID: chargePointID, ID: connectorID}
		m.connectors[key] = conn
	}
	m.mu.Unlock()

	conn.mu.Lock()
	conn.Status = status
	conn.ErrorCode = errorCode
	conn.UpdatedAt = time.Now()
	conn.mu.Unlock()

	if m.deps.Connectors != nil {
		if err := m.deps.Connectors.UpdateStatus(ctx, ports.ConnectorRecord{
			ChargePointID: chargePointID, ConnectorID: connectorID,
			Status: string(status), ErrorCode: errorCode, UpdatedAt: time.Now(),
		}); err != nil {
			return &ocpperrors.InternalError{Cause: err}
		}
	}

	m.publish(&events.ConnectorStatusChangedEvent{
		BaseEvent: events.NewBaseEvent(events.EventTypeConnectorStatusChanged, chargePointID, events.EventSeverityInfo, eventMetadata()),
		ConnectorInfo: events.ConnectorInfo{
			ID: connectorID, ChargePointID: chargePointID,
			Status: toEventConnectorStatus(status), ErrorCode: strPtrOrNil(errorCode),
		},
	})
	return nil
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toEventConnectorStatus(s ConnectorStatus) events.ConnectorStatus {
	switch s {
	case Available:
		return events.ConnectorStatusAvailable
	case Preparing:
		return events.ConnectorStatusPreparing
	case Charging:
		return events.ConnectorStatusCharging
	case SuspendedEVSE:
		return events.ConnectorStatusSuspendedEVSE
	case SuspendedEV:
		return events.ConnectorStatusSuspendedEV
	case Finishing:
		return events.ConnectorStatusFinishing
	case Reserved:
		return events.ConnectorStatusReserved
	case ConnUnavailable:
		return events.ConnectorStatusUnavailable
	case Faulted:
		return events.ConnectorStatusFaulted
	default:
		return events.ConnectorStatusAvailable
	}
}

// StartTransactionResult carries either a freshly allocated transaction or,
// for the ConcurrentTx case, the existing one.
type StartTransactionResult struct {
	Transaction  *Transaction
	IdTagStatus  ports.IdTagStatus
	ConcurrentTx bool
}

// StartTransaction allocates a strictly monotonic transactionId and
// persists an Active row, or refuses with ConcurrentTx if one is already
// Active on that connector, per spec.md §4.D/§4.E. Allocation and
// insertion happen under the same lock so the two are atomic, per spec.md
// §5's explicit requirement.
func (m *Machine) StartTransaction(ctx context.Context, chargePointID string, connectorID int, idTag string, meterStart int, startedAt time.Time) (*StartTransactionResult, error) {
	idTagStatus, _ := m.Authorize(ctx, idTag)

	key := connectorKey(chargePointID, connectorID)

	m.txMu.Lock()
	if existing, ok := m.activeByConnector[key]; ok {
		m.txMu.Unlock()
		return &StartTransactionResult{Transaction: existing, IdTagStatus: ports.IdTagConcurrentTx, ConcurrentTx: true}, nil
	}

	m.idMu.Lock()
	id := m.nextTransactionID
	m.nextTransactionID++
	m.idMu.Unlock()

	tx := &Transaction{
		ID: id, ChargePointID: chargePointID, ConnectorID: connectorID,
		IdTag: idTag, MeterStart: meterStart, StartedAt: startedAt, Status: TxActive,
	}
	m.transactions[id] = tx
	m.activeByConnector[key] = tx
	m.txMu.Unlock()

	if m.deps.Transactions != nil {
		if err := m.deps.Transactions.Create(ctx, ports.TransactionRecord{
			ID: id, ChargePointID: chargePointID, ConnectorID: connectorID, IdTag: idTag,
			MeterStart: meterStart, StartedAt: startedAt, Status: string(TxActive),
		}); err != nil {
			return nil, &ocpperrors.InternalError{Cause: err}
		}
	}

	m.publish(&events.TransactionStartedEvent{
		BaseEvent: events.NewBaseEvent(events.EventTypeTransactionStarted, chargePointID, events.EventSeverityInfo, eventMetadata()),
		TransactionInfo: events.TransactionInfo{
			ID: id, ChargePointID: chargePointID, ConnectorID: connectorID,
			IdTag: idTag, Status: events.TransactionStatusActive,
			StartTime: startedAt, MeterStart: meterStart,
		},
		AuthorizationInfo: events.AuthorizationInfo{IdTag: idTag, Result: toAuthResult(idTagStatus)},
	})
	return &StartTransactionResult{Transaction: tx, IdTagStatus: idTagStatus}, nil
}

func toAuthResult(s ports.IdTagStatus) events.AuthorizationResult {
	switch s {
	case ports.IdTagAccepted:
		return events.AuthorizationResultAccepted
	case ports.IdTagBlocked:
		return events.AuthorizationResultBlocked
	case ports.IdTagExpired:
		return events.AuthorizationResultExpired
	case ports.IdTagInvalid:
		return events.AuthorizationResultInvalid
	case ports.IdTagConcurrentTx:
		return events.AuthorizationResultConcurrentTx
	default:
		return events.AuthorizationResultUnknown
	}
}

// MeterValues records a snapshot and publishes MeterValuesReceived; storage
// of sample history is a repository concern, the state machine only needs
// the latest energy reading to support a later StopTransaction deriving
// consumption.
func (m *Machine) MeterValues(ctx context.Context, chargePointID string, transactionID int, energyWh int) error {
	m.txMu.RLock()
	tx, ok := m.transactions[transactionID]
	m.txMu.RUnlock()
	if !ok {
		return &ocpperrors.ProtocolError{Reason: fmt.Sprintf("meter values for unknown transaction %d", transactionID)}
	}
	tx.mu.Lock()
	tx.EnergyWh = energyWh
	connectorID := tx.ConnectorID
	tx.mu.Unlock()

	txID := transactionID
	m.publish(&events.MeterValuesReceivedEvent{
		BaseEvent: events.NewBaseEvent(events.EventTypeMeterValuesReceived, chargePointID, events.EventSeverityInfo, eventMetadata()),
		ConnectorID: connectorID,
		TransactionID: &txID,
		MeterValues: []events.MeterValue{{
			Type:      events.MeterValueTypeEnergyActiveImport,
			Value:     fmt.Sprintf("%d", energyWh),
			Timestamp: time.Now(),
		}},
	})
	return nil
}

// StopTransaction marks a transaction Completed. Idempotent: retransmission
// with the same transactionId and identical meterStop/reason returns the
// already-stored result without mutating anything, per spec.md §4.D. A
// stopIdTag mismatch against the transaction's stored idTag is rejected as
// a ProtocolError (see DESIGN.md Open Question resolution); stopIdTag ""
// means the CP omitted it (legal) and the check is skipped.
func (m *Machine) StopTransaction(ctx context.Context, transactionID int, meterStop int, stoppedAt time.Time, reason, stopIdTag string) (*Transaction, error) {
	m.txMu.Lock()
	tx, ok := m.transactions[transactionID]
	if !ok {
		m.txMu.Unlock()
		return nil, &ocpperrors.ProtocolError{Reason: fmt.Sprintf("stop for unknown transaction %d", transactionID)}
	}

	tx.mu.Lock()
	if tx.Status == TxCompleted || tx.Status == TxForceClosed {
		same := tx.MeterStop == meterStop && tx.StopReason == reason
		tx.mu.Unlock()
		m.txMu.Unlock()
		if same {
			return tx, nil
		}
		return nil, &ocpperrors.ProtocolError{Reason: "transaction already stopped with different values"}
	}

	if stopIdTag != "" && tx.IdTag != "" && stopIdTag != tx.IdTag {
		tx.mu.Unlock()
		m.txMu.Unlock()
		return nil, &ocpperrors.ProtocolError{Reason: "stop idTag does not match the transaction's idTag"}
	}

	tx.MeterStop = meterStop
	tx.StoppedAt = stoppedAt
	tx.StopReason = reason
	tx.Status = TxCompleted
	tx.EnergyWh = meterStop - tx.MeterStart
	tx.mu.Unlock()

	delete(m.activeByConnector, connectorKey(tx.ChargePointID, tx.ConnectorID))
	m.txMu.Unlock()

	if m.deps.Transactions != nil {
		if err := m.deps.Transactions.Update(ctx, toRecord(tx)); err != nil {
			return nil, &ocpperrors.InternalError{Cause: err}
		}
	}

	m.publish(transactionStoppedEvent(tx, events.EventSeverityInfo))

	if m.deps.Billing != nil {
		if err := m.deps.Billing.OnCompleted(ctx, toRecord(tx)); err != nil {
			m.warnf("billing OnCompleted failed for transaction %d (charge point %s): %v", tx.ID, tx.ChargePointID, err)
		}
	}

	return tx, nil
}

// transactionStoppedEvent builds the single TransactionStopped publication
// shared by StopTransaction and ForceStopTransaction. The event catalog has
// no distinct "billed" wire shape, so a completed transaction's billing
// outcome is carried only through BillingService.OnCompleted, not a second
// publish (see DESIGN.md).
func transactionStoppedEvent(tx *Transaction, severity events.EventSeverity) *events.TransactionStoppedEvent {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	meterStop := tx.MeterStop
	stopReason := tx.StopReason
	endTime := tx.StoppedAt
	return &events.TransactionStoppedEvent{
		BaseEvent: events.NewBaseEvent(events.EventTypeTransactionStopped, tx.ChargePointID, severity, eventMetadata()),
		TransactionInfo: events.TransactionInfo{
			ID: tx.ID, ChargePointID: tx.ChargePointID, ConnectorID: tx.ConnectorID,
			IdTag: tx.IdTag, Status: events.TransactionStatusStopped,
			StartTime: tx.StartedAt, EndTime: &endTime,
			MeterStart: tx.MeterStart, MeterStop: &meterStop,
			StopReason: strPtrOrNil(stopReason),
		},
	}
}

// ForceStopTransaction is the operator-only escape hatch named in spec.md
// §9 / SPEC_FULL.md §12. It is never reachable from an inbound OCPP frame.
// It marks the transaction ForceClosed (not Completed), records zero
// energy, logs at WARN, and publishes TransactionStopped without invoking
// BillingService.OnCompleted.
func (m *Machine) ForceStopTransaction(ctx context.Context, transactionID int, reason string) (*Transaction, error) {
	m.txMu.Lock()
	tx, ok := m.transactions[transactionID]
	if !ok {
		m.txMu.Unlock()
		return nil, &ocpperrors.ProtocolError{Reason: fmt.Sprintf("force-stop for unknown transaction %d", transactionID)}
	}
	tx.mu.Lock()
	if tx.Status != TxActive {
		tx.mu.Unlock()
		m.txMu.Unlock()
		return tx, nil
	}
	tx.MeterStop = tx.MeterStart
	tx.EnergyWh = 0
	tx.StoppedAt = time.Now()
	tx.StopReason = reason
	tx.Status = TxForceClosed
	tx.mu.Unlock()

	delete(m.activeByConnector, connectorKey(tx.ChargePointID, tx.ConnectorID))
	m.txMu.Unlock()

	if m.deps.Transactions != nil {
		if err := m.deps.Transactions.Update(ctx, toRecord(tx)); err != nil {
			return nil, &ocpperrors.InternalError{Cause: err}
		}
	}

	m.warnf("transaction %d force-stopped for charge point %s: meter unavailable, energy recorded as zero (%s)", tx.ID, tx.ChargePointID, reason)
	m.publish(transactionStoppedEvent(tx, events.EventSeverityWarning))
	return tx, nil
}

// MarkOffline is called by the liveness monitor when a Connection is
// evicted; it marks the ChargePoint Offline and every one of its
// Connectors Unavailable, per spec.md §4.G.
func (m *Machine) MarkOffline(chargePointID string) {
	m.mu.RLock()
	cp, ok := m.chargePoints[chargePointID]
	m.mu.RUnlock()
	if ok {
		cp.mu.Lock()
		cp.Status = Offline
		cp.mu.Unlock()
	}

	m.mu.RLock()
	var toMark []*Connector
	for _, conn := range m.connectors {
		if conn.ChargePointID == chargePointID {
			toMark = append(toMark, conn)
		}
	}
	m.mu.RUnlock()

	ctx := context.Background()
	for _, conn := range toMark {
		conn.mu.Lock()
		conn.Status = ConnUnavailable
		conn.ErrorCode = ""
		conn.UpdatedAt = time.Now()
		connectorID := conn.ID
		conn.mu.Unlock()

		if m.deps.Connectors != nil {
			if err := m.deps.Connectors.UpdateStatus(ctx, ports.ConnectorRecord{
				ChargePointID: chargePointID, ConnectorID: connectorID,
				Status: string(ConnUnavailable), UpdatedAt: time.Now(),
			}); err != nil && m.deps.Logger != nil {
				m.deps.Logger.Errorf("failed to persist offline connector status for %s/%d: %v", chargePointID, connectorID, err)
			}
		}
	}
}

// GetTransaction returns a snapshot of a transaction by id.
func (m *Machine) GetTransaction(id int) (*Transaction, bool) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	tx, ok := m.transactions[id]
	return tx, ok
}

func toRecord(tx *Transaction) ports.TransactionRecord {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return ports.TransactionRecord{
		ID: tx.ID, ChargePointID: tx.ChargePointID, ConnectorID: tx.ConnectorID,
		IdTag: tx.IdTag, MeterStart: tx.MeterStart, MeterStop: tx.MeterStop,
		StartedAt: tx.StartedAt, StoppedAt: tx.StoppedAt,
		Status: string(tx.Status), StopReason: tx.StopReason,
	}
}

func mapInternalErr(err error) error {
	if err == nil {
		return nil
	}
	return &ocpperrors.InternalError{Cause: err}
}
