package handlers

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/ocpp-csms/core/internal/domain/validation"
	"github.com/ocpp-csms/core/internal/logger"
	"github.com/ocpp-csms/core/internal/ocpp/ocpperrors"
	"github.com/ocpp-csms/core/internal/ocpp/statemachine"
	"github.com/ocpp-csms/core/internal/ports"
	"github.com/ocpp-csms/core/internal/protocol/ocpp201"
)

// V201HandlerSet implements adapter.HandlerSet for OCPP 2.0.1, grounded on
// JoseRFJuniorLLMs-EV-IA's v201.Server.handleAction switch. It drives the
// same internal/ocpp/statemachine.Machine as V16HandlerSet — spec.md §4.D's
// registration/status/transaction semantics are protocol-version-agnostic,
// only the wire shapes in internal/protocol/ocpp201 differ.
type V201HandlerSet struct {
	machine           *statemachine.Machine
	validator         *validation.Validator
	logger            *logger.Logger
	heartbeatInterval time.Duration

	// txIDs maps the charging-station-assigned transactionId string (2.0.1
	// lets the CP pick it) to the state machine's own monotonic int id, so
	// a TransactionEvent Updated/Ended can still drive the one StopTransaction/
	// MeterValues implementation both protocol versions share.
	txMu  sync.Mutex
	txIDs map[string]int
}

func NewV201HandlerSet(machine *statemachine.Machine, validator *validation.Validator, log *logger.Logger, config Config) *V201HandlerSet {
	return &V201HandlerSet{
		machine:           machine,
		validator:         validator,
		logger:            log,
		heartbeatInterval: config.HeartbeatInterval,
		txIDs:             make(map[string]int),
	}
}

// Handle dispatches one inbound CALL to its action handler.
func (h *V201HandlerSet) Handle(ctx context.Context, chargePointID, action string, payload json.RawMessage) (interface{}, error) {
	switch ocpp201.Action(action) {
	case ocpp201.ActionBootNotification:
		return h.handleBootNotification(ctx, chargePointID, payload)
	case ocpp201.ActionHeartbeat:
		return h.handleHeartbeat(ctx, chargePointID, payload)
	case ocpp201.ActionStatusNotification:
		return h.handleStatusNotification(ctx, chargePointID, payload)
	case ocpp201.ActionAuthorize:
		return h.handleAuthorize(ctx, chargePointID, payload)
	case ocpp201.ActionTransactionEvent:
		return h.handleTransactionEvent(ctx, chargePointID, payload)
	case ocpp201.ActionDataTransfer:
		return h.handleDataTransfer(ctx, chargePointID, payload)
	case ocpp201.ActionFirmwareStatusNotification:
		return h.handleFirmwareStatusNotification(ctx, chargePointID, payload)
	default:
		return nil, &ocpperrors.UnknownAction{Action: action}
	}
}

func (h *V201HandlerSet) decode(action string, payload json.RawMessage, dest interface{}) error {
	if err := json.Unmarshal(payload, dest); err != nil {
		return &ocpperrors.SchemaError{Action: action, Reason: err.Error()}
	}
	if h.validator != nil {
		if err := h.validator.ValidateStruct(dest); err != nil {
			return &ocpperrors.SchemaError{Action: action, Reason: err.Error()}
		}
	}
	return nil
}

func (h *V201HandlerSet) infof(format string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Infof(format, args...)
	}
}

func (h *V201HandlerSet) handleBootNotification(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp201.BootNotificationRequest
	if err := h.decode(string(ocpp201.ActionBootNotification), payload, &req); err != nil {
		return nil, err
	}
	h.infof("BootNotification from %s: %s %s (%s)", chargePointID, req.ChargingStation.VendorName, req.ChargingStation.Model, req.Reason)

	if _, err := h.machine.BootNotification(ctx, chargePointID, req.ChargingStation.VendorName, req.ChargingStation.Model,
		req.ChargingStation.SerialNumber, req.ChargingStation.FirmwareVersion, h.heartbeatInterval); err != nil {
		return nil, err
	}

	return &ocpp201.BootNotificationResponse{
		Status:      ocpp201.RegistrationStatusAccepted,
		CurrentTime: ocpp201.DateTime{Time: time.Now().UTC()},
		Interval:    int(h.heartbeatInterval.Seconds()),
	}, nil
}

func (h *V201HandlerSet) handleHeartbeat(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	if err := h.machine.Heartbeat(ctx, chargePointID); err != nil {
		return nil, err
	}
	return &ocpp201.HeartbeatResponse{CurrentTime: ocpp201.DateTime{Time: time.Now().UTC()}}, nil
}

func (h *V201HandlerSet) handleStatusNotification(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp201.StatusNotificationRequest
	if err := h.decode(string(ocpp201.ActionStatusNotification), payload, &req); err != nil {
		return nil, err
	}
	h.infof("StatusNotification from %s: connector %d status %s", chargePointID, req.ConnectorId, req.ConnectorStatus)

	if err := h.machine.StatusNotification(ctx, chargePointID, req.ConnectorId, toMachineStatus(req.ConnectorStatus), ""); err != nil {
		return nil, err
	}
	return &ocpp201.StatusNotificationResponse{}, nil
}

func (h *V201HandlerSet) handleAuthorize(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp201.AuthorizeRequest
	if err := h.decode(string(ocpp201.ActionAuthorize), payload, &req); err != nil {
		return nil, err
	}
	status, err := h.machine.Authorize(ctx, req.IdToken.IdToken)
	if err != nil {
		return nil, err
	}
	return &ocpp201.AuthorizeResponse{IdTokenInfo: ocpp201.IdTokenInfo{Status: toWireAuthStatus201(status)}}, nil
}

// handleTransactionEvent is the single action replacing v1.6's
// StartTransaction/StopTransaction/MeterValues, per SPEC_FULL.md §12.
func (h *V201HandlerSet) handleTransactionEvent(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp201.TransactionEventRequest
	if err := h.decode(string(ocpp201.ActionTransactionEvent), payload, &req); err != nil {
		return nil, err
	}
	h.infof("TransactionEvent from %s: %s transaction %s", chargePointID, req.EventType, req.TransactionInfo.TransactionId)

	connectorID := 1
	if req.Evse != nil && req.Evse.ConnectorId > 0 {
		connectorID = req.Evse.ConnectorId
	}

	switch req.EventType {
	case ocpp201.TransactionEventStarted:
		idToken := ""
		if req.IdToken != nil {
			idToken = req.IdToken.IdToken
		}
		meterStart, _ := latestEnergyWh201(req.MeterValue)
		result, err := h.machine.StartTransaction(ctx, chargePointID, connectorID, idToken, meterStart, req.Timestamp.Time)
		if err != nil {
			return nil, err
		}
		h.txMu.Lock()
		h.txIDs[req.TransactionInfo.TransactionId] = result.Transaction.ID
		h.txMu.Unlock()
		return &ocpp201.TransactionEventResponse{
			IdTokenInfo: &ocpp201.IdTokenInfo{Status: toWireAuthStatus201(result.IdTagStatus)},
		}, nil

	case ocpp201.TransactionEventUpdated:
		id, ok := h.resolveTxID(req.TransactionInfo.TransactionId)
		if !ok {
			return nil, &ocpperrors.ProtocolError{Reason: "transaction event update for unknown transactionId"}
		}
		if energyWh, ok := latestEnergyWh201(req.MeterValue); ok {
			if err := h.machine.MeterValues(ctx, chargePointID, id, energyWh); err != nil {
				return nil, err
			}
		}
		return &ocpp201.TransactionEventResponse{}, nil

	case ocpp201.TransactionEventEnded:
		id, ok := h.resolveTxID(req.TransactionInfo.TransactionId)
		if !ok {
			return nil, &ocpperrors.ProtocolError{Reason: "transaction event end for unknown transactionId"}
		}
		meterStop, _ := latestEnergyWh201(req.MeterValue)
		if _, err := h.machine.StopTransaction(ctx, id, meterStop, req.Timestamp.Time, string(req.TriggerReason), ""); err != nil {
			return nil, err
		}
		h.txMu.Lock()
		delete(h.txIDs, req.TransactionInfo.TransactionId)
		h.txMu.Unlock()
		return &ocpp201.TransactionEventResponse{}, nil

	default:
		return nil, &ocpperrors.SchemaError{Action: string(ocpp201.ActionTransactionEvent), Reason: "unknown eventType " + string(req.EventType)}
	}
}

func (h *V201HandlerSet) resolveTxID(wireID string) (int, bool) {
	h.txMu.Lock()
	defer h.txMu.Unlock()
	id, ok := h.txIDs[wireID]
	return id, ok
}

func (h *V201HandlerSet) handleDataTransfer(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp201.DataTransferRequest
	if err := h.decode(string(ocpp201.ActionDataTransfer), payload, &req); err != nil {
		return nil, err
	}
	h.infof("DataTransfer from %s: vendor %s", chargePointID, req.VendorId)
	return &ocpp201.DataTransferResponse{Status: ocpp201.DataTransferStatusAccepted}, nil
}

// handleFirmwareStatusNotification is a trivially-accepted pass-through,
// same rationale as V16HandlerSet's.
func (h *V201HandlerSet) handleFirmwareStatusNotification(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp201.FirmwareStatusNotificationRequest
	if err := h.decode(string(ocpp201.ActionFirmwareStatusNotification), payload, &req); err != nil {
		return nil, err
	}
	h.infof("FirmwareStatusNotification from %s: %s", chargePointID, req.Status)
	return &ocpp201.FirmwareStatusNotificationResponse{}, nil
}

func toMachineStatus(s ocpp201.ConnectorStatus) statemachine.ConnectorStatus {
	switch s {
	case ocpp201.ConnectorStatusAvailable:
		return statemachine.Available
	case ocpp201.ConnectorStatusOccupied:
		return statemachine.Charging
	case ocpp201.ConnectorStatusReserved:
		return statemachine.Reserved
	case ocpp201.ConnectorStatusUnavailable:
		return statemachine.ConnUnavailable
	case ocpp201.ConnectorStatusFaulted:
		return statemachine.Faulted
	default:
		return statemachine.Available
	}
}

func toWireAuthStatus201(s ports.IdTagStatus) ocpp201.AuthorizationStatus {
	switch s {
	case ports.IdTagAccepted:
		return ocpp201.AuthorizationStatusAccepted
	case ports.IdTagBlocked:
		return ocpp201.AuthorizationStatusBlocked
	case ports.IdTagExpired:
		return ocpp201.AuthorizationStatusExpired
	case ports.IdTagInvalid:
		return ocpp201.AuthorizationStatusInvalid
	case ports.IdTagConcurrentTx:
		return ocpp201.AuthorizationStatusConcurrentTx
	default:
		return ocpp201.AuthorizationStatusInvalid
	}
}

// latestEnergyWh201 mirrors handlers16.go's latestEnergyWh: picks the
// Energy.Active.Import.Register sample out of a TransactionEvent's
// meterValue slice.
func latestEnergyWh201(samples []ocpp201.MeterValue) (int, bool) {
	for i := len(samples) - 1; i >= 0; i-- {
		for _, sv := range samples[i].SampledValue {
			if sv.Measurand != "" && sv.Measurand != ocpp201.MeasurandEnergyActiveImportRegister {
				continue
			}
			wh, err := strconv.ParseFloat(sv.Value, 64)
			if err == nil {
				return int(wh), true
			}
		}
	}
	return 0, false
}
