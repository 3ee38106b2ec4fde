// Package ports declares the repository and service boundaries the inbound
// handler set and protocol state machine depend on. spec.md §6 scopes
// concrete persistence out of the core's "hard engineering" surface; these
// interfaces are that boundary made explicit so the core compiles and tests
// against a boundary instead of a concrete store.
package ports

import (
	"context"
	"time"
)

// ChargePointRecord is the persisted view of a charge point, independent of
// the richer in-memory ChargePoint the protocol state machine holds.
type ChargePointRecord struct {
	ID              string
	Vendor          string
	Model           string
	SerialNumber    string
	FirmwareVersion string
	RegisteredAt    time.Time
	LastSeenAt      time.Time
}

// ChargePointRepository persists charge point identity and registration
// status.
type ChargePointRepository interface {
	Upsert(ctx context.Context, rec ChargePointRecord) error
	Get(ctx context.Context, chargePointID string) (ChargePointRecord, bool, error)
	MarkSeen(ctx context.Context, chargePointID string, at time.Time) error
}

// ConnectorRecord is the persisted view of one connector's latest reported
// status.
type ConnectorRecord struct {
	ChargePointID string
	ConnectorID   int
	Status        string
	ErrorCode     string
	UpdatedAt     time.Time
}

// ConnectorRepository persists per-connector status history.
type ConnectorRepository interface {
	UpdateStatus(ctx context.Context, rec ConnectorRecord) error
	Get(ctx context.Context, chargePointID string, connectorID int) (ConnectorRecord, bool, error)
}

// TransactionRecord is the persisted view of a charging transaction.
type TransactionRecord struct {
	ID            int
	ChargePointID string
	ConnectorID   int
	IdTag         string
	MeterStart    int
	MeterStop     int
	StartedAt     time.Time
	StoppedAt     time.Time
	Status        string // Active, Completed, ForceClosed, Failed
	StopReason    string
}

// TransactionRepository persists transaction lifecycle state.
type TransactionRepository interface {
	Create(ctx context.Context, rec TransactionRecord) error
	Update(ctx context.Context, rec TransactionRecord) error
	Get(ctx context.Context, transactionID int) (TransactionRecord, bool, error)
	ActiveFor(ctx context.Context, chargePointID string, connectorID int) (TransactionRecord, bool, error)
}

// IdTagStatus mirrors the OCPP AuthorizationStatus values, kept as a string
// here so ports stays independent of any one protocol version's enum type.
type IdTagStatus string

const (
	IdTagAccepted    IdTagStatus = "Accepted"
	IdTagBlocked     IdTagStatus = "Blocked"
	IdTagExpired     IdTagStatus = "Expired"
	IdTagInvalid     IdTagStatus = "Invalid"
	IdTagConcurrentTx IdTagStatus = "ConcurrentTx"
)

// IdTagRepository resolves whether an idTag/idToken may authorize a
// transaction.
type IdTagRepository interface {
	Authorize(ctx context.Context, idTag string) (IdTagStatus, error)
}

// BillingService is notified when a transaction reaches a terminal state.
// spec.md §9's force_stop_transaction resolution (see DESIGN.md) means
// OnCompleted is deliberately not called for a ForceClosed transaction.
type BillingService interface {
	OnCompleted(ctx context.Context, rec TransactionRecord) error
}
