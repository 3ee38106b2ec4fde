// Package ocpp201 declares the OCPP 2.0.1 wire types: message envelope,
// action names, and enums, mirroring internal/domain/ocpp16's split between
// types.go and messages.go. Grounded on
// JoseRFJuniorLLMs-EV-IA's internal/adapter/ocpp/v201/types.go, with struct
// tags added for github.com/go-playground/validator/v10 to match the rest
// of this tree instead of that example's untagged structs.
package ocpp201

import "time"

// MessageType is the OCPP-J frame type discriminant, identical across
// protocol versions.
type MessageType int

const (
	Call       MessageType = 2
	CallResult MessageType = 3
	CallError  MessageType = 4
)

// Action is the v2.0.1 action name. Several keep their v1.6 name
// (BootNotification, Heartbeat, StatusNotification); others replace a
// v1.6 action wholesale per SPEC_FULL.md §12's "v1.6 baseline; v2.0.1
// superset" mapping.
type Action string

const (
	ActionBootNotification             Action = "BootNotification"
	ActionHeartbeat                     Action = "Heartbeat"
	ActionStatusNotification           Action = "StatusNotification"
	ActionAuthorize                     Action = "Authorize"
	ActionTransactionEvent              Action = "TransactionEvent"
	ActionFirmwareStatusNotification    Action = "FirmwareStatusNotification"
	ActionDataTransfer                  Action = "DataTransfer"

	// Outbound (CS→CP) commands, replacing their v1.6-named counterparts:
	// RequestStartTransaction/RequestStopTransaction stand in for
	// RemoteStartTransaction/RemoteStopTransaction, SetVariables/
	// GetVariables stand in for ChangeConfiguration/GetConfiguration. Sent
	// via the same internal/ocpp/dispatcher.SendCommand every v1.6 command
	// uses — there is no v2.0.1-specific dispatcher path, only a different
	// action name and payload shape.
	ActionRequestStartTransaction Action = "RequestStartTransaction"
	ActionRequestStopTransaction  Action = "RequestStopTransaction"
	ActionSetVariables            Action = "SetVariables"
	ActionGetVariables            Action = "GetVariables"
)

// RegistrationStatus mirrors ocpp16.RegistrationStatus; kept as a distinct
// type since a v2.0.1 bundle must not leak a v1.6 domain type onto its own
// wire shapes.
type RegistrationStatus string

const (
	RegistrationStatusAccepted RegistrationStatus = "Accepted"
	RegistrationStatusPending  RegistrationStatus = "Pending"
	RegistrationStatusRejected RegistrationStatus = "Rejected"
)

// ConnectorStatus is the v2.0.1 connector status enum. Faulted folds the
// v1.6 separate errorCode field into the status itself.
type ConnectorStatus string

const (
	ConnectorStatusAvailable   ConnectorStatus = "Available"
	ConnectorStatusOccupied    ConnectorStatus = "Occupied"
	ConnectorStatusReserved    ConnectorStatus = "Reserved"
	ConnectorStatusUnavailable ConnectorStatus = "Unavailable"
	ConnectorStatusFaulted     ConnectorStatus = "Faulted"
)

// AuthorizationStatus mirrors ocpp16.AuthorizationStatus.
type AuthorizationStatus string

const (
	AuthorizationStatusAccepted     AuthorizationStatus = "Accepted"
	AuthorizationStatusBlocked      AuthorizationStatus = "Blocked"
	AuthorizationStatusExpired      AuthorizationStatus = "Expired"
	AuthorizationStatusInvalid      AuthorizationStatus = "Invalid"
	AuthorizationStatusConcurrentTx AuthorizationStatus = "ConcurrentTx"
)

// TransactionEventType is TransactionEventRequest's eventType, the field
// that carries what used to be three separate v1.6 actions.
type TransactionEventType string

const (
	TransactionEventStarted TransactionEventType = "Started"
	TransactionEventUpdated TransactionEventType = "Updated"
	TransactionEventEnded   TransactionEventType = "Ended"
)

// TriggerReason is TransactionEventRequest's triggerReason field.
type TriggerReason string

const (
	TriggerReasonAuthorized       TriggerReason = "Authorized"
	TriggerReasonCablePluggedIn   TriggerReason = "CablePluggedIn"
	TriggerReasonEVDeparted       TriggerReason = "EVDeparted"
	TriggerReasonEVDetected       TriggerReason = "EVDetected"
	TriggerReasonMeterValuePeriodic TriggerReason = "MeterValuePeriodic"
	TriggerReasonRemoteStop       TriggerReason = "RemoteStop"
	TriggerReasonStopAuthorized   TriggerReason = "StopAuthorized"
)

// IdTokenType is the idToken's token kind.
type IdTokenType string

const (
	IdTokenTypeISO14443  IdTokenType = "ISO14443"
	IdTokenTypeISO15693  IdTokenType = "ISO15693"
	IdTokenTypeCentral   IdTokenType = "Central"
	IdTokenTypeKeyCode   IdTokenType = "KeyCode"
	IdTokenTypeMacAddress IdTokenType = "MacAddress"
	IdTokenTypeNoAuthorization IdTokenType = "NoAuthorization"
)

// FirmwareStatus mirrors ocpp16.FirmwareStatus's value set (the v2.0.1
// enum adds no new states for the CS's purposes here).
type FirmwareStatus string

const (
	FirmwareStatusDownloaded       FirmwareStatus = "Downloaded"
	FirmwareStatusDownloadFailed   FirmwareStatus = "DownloadFailed"
	FirmwareStatusDownloading     FirmwareStatus = "Downloading"
	FirmwareStatusInstallationFailed FirmwareStatus = "InstallationFailed"
	FirmwareStatusInstalling      FirmwareStatus = "Installing"
	FirmwareStatusInstalled       FirmwareStatus = "Installed"
	FirmwareStatusIdle            FirmwareStatus = "Idle"
)

// Measurand mirrors the subset of ocpp16.Measurand this core reads.
type Measurand string

const (
	MeasurandEnergyActiveImportRegister Measurand = "Energy.Active.Import.Register"
)

// DateTime is RFC3339, kept as its own type (rather than reusing
// ocpp16.DateTime) so this package has no dependency on the v1.6 domain
// package — the two protocol bundles must stay independently swappable in
// the adapter registry.
type DateTime struct {
	time.Time
}

func (dt DateTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.Time.Format(time.RFC3339) + `"`), nil
}

func (dt *DateTime) UnmarshalJSON(data []byte) error {
	str := string(data)
	if str == "null" {
		return nil
	}
	str = str[1 : len(str)-1]
	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return err
	}
	dt.Time = t
	return nil
}
