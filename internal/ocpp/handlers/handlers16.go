// Package handlers implements the OCPP 1.6J inbound handler set: one
// method per Core Profile action, each validating its payload against
// internal/domain/ocpp16's struct tags before handing the request to
// internal/ocpp/statemachine and shaping the CALLRESULT response.
//
// Grounded on internal/protocol/ocpp16/processor.go's handleAction switch
// and its per-action handlers — the dispatch shape and logging style are
// kept, the bodies are replaced with real state transitions instead of
// the teacher's canned Accepted responses and time.Now().Unix() id.
package handlers

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ocpp-csms/core/internal/domain/ocpp16"
	"github.com/ocpp-csms/core/internal/domain/validation"
	"github.com/ocpp-csms/core/internal/logger"
	"github.com/ocpp-csms/core/internal/ocpp/ocpperrors"
	"github.com/ocpp-csms/core/internal/ocpp/statemachine"
	"github.com/ocpp-csms/core/internal/ports"
)

// V16HandlerSet implements adapter.HandlerSet for OCPP 1.6J.
type V16HandlerSet struct {
	machine           *statemachine.Machine
	validator         *validation.Validator
	logger            *logger.Logger
	heartbeatInterval time.Duration
}

// Config controls the handler set's own knobs, independent of the state
// machine it drives.
type Config struct {
	HeartbeatInterval time.Duration
}

func DefaultConfig() Config {
	return Config{HeartbeatInterval: 300 * time.Second}
}

func NewV16HandlerSet(machine *statemachine.Machine, validator *validation.Validator, log *logger.Logger, config Config) *V16HandlerSet {
	return &V16HandlerSet{
		machine:           machine,
		validator:         validator,
		logger:            log,
		heartbeatInterval: config.HeartbeatInterval,
	}
}

// Handle dispatches one inbound CALL to its action handler.
func (h *V16HandlerSet) Handle(ctx context.Context, chargePointID, action string, payload json.RawMessage) (interface{}, error) {
	switch ocpp16.Action(action) {
	case ocpp16.ActionBootNotification:
		return h.handleBootNotification(ctx, chargePointID, payload)
	case ocpp16.ActionHeartbeat:
		return h.handleHeartbeat(ctx, chargePointID, payload)
	case ocpp16.ActionStatusNotification:
		return h.handleStatusNotification(ctx, chargePointID, payload)
	case ocpp16.ActionAuthorize:
		return h.handleAuthorize(ctx, chargePointID, payload)
	case ocpp16.ActionStartTransaction:
		return h.handleStartTransaction(ctx, chargePointID, payload)
	case ocpp16.ActionStopTransaction:
		return h.handleStopTransaction(ctx, chargePointID, payload)
	case ocpp16.ActionMeterValues:
		return h.handleMeterValues(ctx, chargePointID, payload)
	case ocpp16.ActionDataTransfer:
		return h.handleDataTransfer(ctx, chargePointID, payload)
	case ocpp16.ActionFirmwareStatusNotification:
		return h.handleFirmwareStatusNotification(ctx, chargePointID, payload)
	case ocpp16.ActionDiagnosticsStatusNotification:
		return h.handleDiagnosticsStatusNotification(ctx, chargePointID, payload)
	default:
		return nil, &ocpperrors.UnknownAction{Action: action}
	}
}

func (h *V16HandlerSet) decode(action string, payload json.RawMessage, dest interface{}) error {
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

func (h *V16HandlerSet) infof(format string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Infof(format, args...)
	}
}

func (h *V16HandlerSet) handleBootNotification(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.BootNotificationRequest
	if err := h.decode(string(ocpp16.ActionBootNotification), payload, &req); err != nil {
		return nil, err
	}
	h.infof("BootNotification from %s: %s %s", chargePointID, req.ChargePointVendor, req.ChargePointModel)

	serial, firmware := "", ""
	if req.ChargePointSerialNumber != nil {
		serial = *req.ChargePointSerialNumber
	}
	if req.FirmwareVersion != nil {
		firmware = *req.FirmwareVersion
	}

	if _, err := h.machine.BootNotification(ctx, chargePointID, req.ChargePointVendor, req.ChargePointModel, serial, firmware, h.heartbeatInterval); err != nil {
		return nil, err
	}

	return &ocpp16.BootNotificationResponse{
		Status:      ocpp16.RegistrationStatusAccepted,
		CurrentTime: ocpp16.DateTime{Time: time.Now().UTC()},
		Interval:    int(h.heartbeatInterval.Seconds()),
	}, nil
}

func (h *V16HandlerSet) handleHeartbeat(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	if err := h.machine.Heartbeat(ctx, chargePointID); err != nil {
		return nil, err
	}
	return &ocpp16.HeartbeatResponse{CurrentTime: ocpp16.DateTime{Time: time.Now().UTC()}}, nil
}

func (h *V16HandlerSet) handleStatusNotification(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.StatusNotificationRequest
	if err := h.decode(string(ocpp16.ActionStatusNotification), payload, &req); err != nil {
		return nil, err
	}
	h.infof("StatusNotification from %s: connector %d status %s", chargePointID, req.ConnectorId, req.Status)

	errorCode := ""
	if req.ErrorCode != ocpp16.ChargePointErrorCodeNoError {
		errorCode = string(req.ErrorCode)
	}
	if err := h.machine.StatusNotification(ctx, chargePointID, req.ConnectorId, statemachine.ConnectorStatus(req.Status), errorCode); err != nil {
		return nil, err
	}
	return &ocpp16.StatusNotificationResponse{}, nil
}

func (h *V16HandlerSet) handleAuthorize(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.AuthorizeRequest
	if err := h.decode(string(ocpp16.ActionAuthorize), payload, &req); err != nil {
		return nil, err
	}
	status, err := h.machine.Authorize(ctx, req.IdTag)
	if err != nil {
		return nil, err
	}
	return &ocpp16.AuthorizeResponse{IdTagInfo: ocpp16.IdTagInfo{Status: toWireAuthStatus(status)}}, nil
}

func (h *V16HandlerSet) handleStartTransaction(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.StartTransactionRequest
	if err := h.decode(string(ocpp16.ActionStartTransaction), payload, &req); err != nil {
		return nil, err
	}
	h.infof("StartTransaction from %s: connector %d, idTag %s", chargePointID, req.ConnectorId, req.IdTag)

	result, err := h.machine.StartTransaction(ctx, chargePointID, req.ConnectorId, req.IdTag, req.MeterStart, req.Timestamp.Time)
	if err != nil {
		return nil, err
	}
	return &ocpp16.StartTransactionResponse{
		IdTagInfo:     ocpp16.IdTagInfo{Status: toWireAuthStatus(result.IdTagStatus)},
		TransactionId: result.Transaction.ID,
	}, nil
}

func (h *V16HandlerSet) handleStopTransaction(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.StopTransactionRequest
	if err := h.decode(string(ocpp16.ActionStopTransaction), payload, &req); err != nil {
		return nil, err
	}
	h.infof("StopTransaction from %s: transaction %d", chargePointID, req.TransactionId)

	reason, stopIdTag := "", ""
	if req.Reason != nil {
		reason = string(*req.Reason)
	}
	if req.IdTag != nil {
		stopIdTag = *req.IdTag
	}
	if _, err := h.machine.StopTransaction(ctx, req.TransactionId, req.MeterStop, req.Timestamp.Time, reason, stopIdTag); err != nil {
		return nil, err
	}
	return &ocpp16.StopTransactionResponse{}, nil
}

func (h *V16HandlerSet) handleMeterValues(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.MeterValuesRequest
	if err := h.decode(string(ocpp16.ActionMeterValues), payload, &req); err != nil {
		return nil, err
	}
	h.infof("MeterValues from %s: connector %d, %d values", chargePointID, req.ConnectorId, len(req.MeterValue))

	if req.TransactionId != nil {
		if energyWh, ok := latestEnergyWh(req.MeterValue); ok {
			if err := h.machine.MeterValues(ctx, chargePointID, *req.TransactionId, energyWh); err != nil {
				return nil, err
			}
		}
	}
	return &ocpp16.MeterValuesResponse{}, nil
}

func (h *V16HandlerSet) handleDataTransfer(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.DataTransferRequest
	if err := h.decode(string(ocpp16.ActionDataTransfer), payload, &req); err != nil {
		return nil, err
	}
	h.infof("DataTransfer from %s: vendor %s", chargePointID, req.VendorId)
	return &ocpp16.DataTransferResponse{Status: ocpp16.DataTransferStatusAccepted}, nil
}

// handleFirmwareStatusNotification is a trivially-accepted pass-through: the
// CS has no firmware-update state machine of its own to drive, so the
// report is only ever logged.
func (h *V16HandlerSet) handleFirmwareStatusNotification(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.FirmwareStatusNotificationRequest
	if err := h.decode(string(ocpp16.ActionFirmwareStatusNotification), payload, &req); err != nil {
		return nil, err
	}
	h.infof("FirmwareStatusNotification from %s: %s", chargePointID, req.Status)
	return &ocpp16.FirmwareStatusNotificationResponse{}, nil
}

// handleDiagnosticsStatusNotification is a trivially-accepted pass-through,
// same rationale as handleFirmwareStatusNotification.
func (h *V16HandlerSet) handleDiagnosticsStatusNotification(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
	var req ocpp16.DiagnosticsStatusNotificationRequest
	if err := h.decode(string(ocpp16.ActionDiagnosticsStatusNotification), payload, &req); err != nil {
		return nil, err
	}
	h.infof("DiagnosticsStatusNotification from %s: %s", chargePointID, req.Status)
	return &ocpp16.DiagnosticsStatusNotificationResponse{}, nil
}

func toWireAuthStatus(s ports.IdTagStatus) ocpp16.AuthorizationStatus {
	switch s {
	case ports.IdTagAccepted:
		return ocpp16.AuthorizationStatusAccepted
	case ports.IdTagBlocked:
		return ocpp16.AuthorizationStatusBlocked
	case ports.IdTagExpired:
		return ocpp16.AuthorizationStatusExpired
	case ports.IdTagInvalid:
		return ocpp16.AuthorizationStatusInvalid
	case ports.IdTagConcurrentTx:
		return ocpp16.AuthorizationStatusConcurrentTx
	default:
		return ocpp16.AuthorizationStatusInvalid
	}
}

// latestEnergyWh picks the Energy.Active.Import.Register sampled value out
// of a MeterValues payload, the one reading StopTransaction needs to
// derive consumption; every other measurand in the sample is a repository
// concern and is not tracked by the state machine.
func latestEnergyWh(samples []ocpp16.MeterValue) (int, bool) {
	for i := len(samples) - 1; i >= 0; i-- {
		for _, sv := range samples[i].SampledValue {
			if sv.Measurand != nil && *sv.Measurand != ocpp16.MeasurandEnergyActiveImportRegister {
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
