package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocpp-csms/core/internal/domain/ocpp16"
	"github.com/ocpp-csms/core/internal/domain/validation"
	"github.com/ocpp-csms/core/internal/ocpp/ocpperrors"
	"github.com/ocpp-csms/core/internal/ocpp/statemachine"
)

func newV16HandlerSet() *V16HandlerSet {
	machine := statemachine.New(statemachine.Deps{})
	return NewV16HandlerSet(machine, validation.NewValidator(), nil, DefaultConfig())
}

func TestV16HandleBootNotification(t *testing.T) {
	h := newV16HandlerSet()
	payload, _ := json.Marshal(ocpp16.BootNotificationRequest{
		ChargePointVendor: "Acme",
		ChargePointModel:  "Model-X",
	})

	resp, err := h.Handle(context.Background(), "CP1", string(ocpp16.ActionBootNotification), payload)
	require.NoError(t, err)
	boot, ok := resp.(*ocpp16.BootNotificationResponse)
	require.True(t, ok)
	assert.Equal(t, ocpp16.RegistrationStatusAccepted, boot.Status)
}

func TestV16HandleBootNotificationRejectsMissingRequiredField(t *testing.T) {
	h := newV16HandlerSet()
	payload, _ := json.Marshal(ocpp16.BootNotificationRequest{ChargePointModel: "Model-X"}) // vendor missing

	_, err := h.Handle(context.Background(), "CP1", string(ocpp16.ActionBootNotification), payload)
	require.Error(t, err)
	var schemaErr *ocpperrors.SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestV16HandleUnknownActionReturnsUnknownActionError(t *testing.T) {
	h := newV16HandlerSet()
	_, err := h.Handle(context.Background(), "CP1", "SomeUnknownAction", json.RawMessage(`{}`))
	require.Error(t, err)
	var unknown *ocpperrors.UnknownAction
	require.ErrorAs(t, err, &unknown)
}

func TestV16HandleStartAndStopTransactionFlow(t *testing.T) {
	h := newV16HandlerSet()
	ctx := context.Background()

	bootPayload, _ := json.Marshal(ocpp16.BootNotificationRequest{ChargePointVendor: "Acme", ChargePointModel: "X"})
	_, err := h.Handle(ctx, "CP1", string(ocpp16.ActionBootNotification), bootPayload)
	require.NoError(t, err)

	startPayload, _ := json.Marshal(ocpp16.StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       "tag1",
		MeterStart:  100,
		Timestamp:   ocpp16.DateTime{Time: time.Now()},
	})
	resp, err := h.Handle(ctx, "CP1", string(ocpp16.ActionStartTransaction), startPayload)
	require.NoError(t, err)
	startResp, ok := resp.(*ocpp16.StartTransactionResponse)
	require.True(t, ok)
	assert.Equal(t, ocpp16.AuthorizationStatusAccepted, startResp.IdTagInfo.Status)
	assert.NotZero(t, startResp.TransactionId)

	stopPayload, _ := json.Marshal(ocpp16.StopTransactionRequest{
		TransactionId: startResp.TransactionId,
		MeterStop:     500,
		Timestamp:     ocpp16.DateTime{Time: time.Now()},
	})
	_, err = h.Handle(ctx, "CP1", string(ocpp16.ActionStopTransaction), stopPayload)
	require.NoError(t, err)
}

func TestV16HandleFirmwareAndDiagnosticsStatusNotificationAreAccepted(t *testing.T) {
	h := newV16HandlerSet()
	ctx := context.Background()

	fwPayload, _ := json.Marshal(ocpp16.FirmwareStatusNotificationRequest{Status: ocpp16.FirmwareStatusInstalled})
	_, err := h.Handle(ctx, "CP1", string(ocpp16.ActionFirmwareStatusNotification), fwPayload)
	require.NoError(t, err)

	diagPayload, _ := json.Marshal(ocpp16.DiagnosticsStatusNotificationRequest{Status: ocpp16.DiagnosticsStatusUploaded})
	_, err = h.Handle(ctx, "CP1", string(ocpp16.ActionDiagnosticsStatusNotification), diagPayload)
	require.NoError(t, err)
}
