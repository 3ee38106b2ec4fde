package ocpp201

// BootNotificationRequest identifies the charging station at connect time,
// replacing v1.6's flat vendor/model/serial fields with a nested
// ChargingStation object per the 2.0.1 schema.
type BootNotificationRequest struct {
	ChargingStation ChargingStation `json:"chargingStation" validate:"required"`
	Reason          string          `json:"reason" validate:"required"`
}

// ChargingStation is BootNotificationRequest's nested identity payload.
type ChargingStation struct {
	Model           string `json:"model" validate:"required,max=20"`
	VendorName      string `json:"vendorName" validate:"required,max=50"`
	SerialNumber    string `json:"serialNumber,omitempty" validate:"omitempty,max=25"`
	FirmwareVersion string `json:"firmwareVersion,omitempty" validate:"omitempty,max=50"`
}

type BootNotificationResponse struct {
	CurrentTime DateTime            `json:"currentTime" validate:"required"`
	Interval    int                 `json:"interval" validate:"required,min=0"`
	Status      RegistrationStatus  `json:"status" validate:"required"`
}

type HeartbeatRequest struct{}

type HeartbeatResponse struct {
	CurrentTime DateTime `json:"currentTime" validate:"required"`
}

// StatusNotificationRequest folds v1.6's separate errorCode into the
// connectorStatus enum and adds the evseId the 2.0.1 EVSE/connector model
// requires.
type StatusNotificationRequest struct {
	Timestamp       DateTime        `json:"timestamp" validate:"required"`
	ConnectorStatus ConnectorStatus `json:"connectorStatus" validate:"required"`
	EvseId          int             `json:"evseId" validate:"required,min=1"`
	ConnectorId     int             `json:"connectorId" validate:"required,min=1"`
}

type StatusNotificationResponse struct{}

// IdToken replaces v1.6's flat idTag string with a typed token.
type IdToken struct {
	IdToken string      `json:"idToken" validate:"required,max=36"`
	Type    IdTokenType `json:"type" validate:"required"`
}

// IdTokenInfo is AuthorizeResponse/TransactionEventResponse's authorization
// verdict, replacing v1.6's IdTagInfo.
type IdTokenInfo struct {
	Status AuthorizationStatus `json:"status" validate:"required"`
}

type AuthorizeRequest struct {
	IdToken IdToken `json:"idToken" validate:"required"`
}

type AuthorizeResponse struct {
	IdTokenInfo IdTokenInfo `json:"idTokenInfo" validate:"required"`
}

// EVSE identifies the evse/connector pair a transaction event refers to.
type EVSE struct {
	Id          int `json:"id" validate:"required,min=1"`
	ConnectorId int `json:"connectorId,omitempty"`
}

// TransactionInfo is TransactionEventRequest's transaction identity. Unlike
// v1.6, the charging station — not the CS — assigns this id, as a string;
// internal/ocpp/handlers.V201HandlerSet maps it to the state machine's own
// monotonic int transactionId.
type TransactionInfo struct {
	TransactionId string `json:"transactionId" validate:"required"`
}

// SampledValue is one meter reading inside a MeterValue entry, mirroring
// ocpp16.SampledValue's shape.
type SampledValue struct {
	Value     string    `json:"value" validate:"required"`
	Context   string    `json:"context,omitempty"`
	Measurand Measurand `json:"measurand,omitempty"`
	Unit      string    `json:"unit,omitempty"`
}

type MeterValue struct {
	Timestamp    DateTime       `json:"timestamp" validate:"required"`
	SampledValue []SampledValue `json:"sampledValue" validate:"required,min=1,dive"`
}

// TransactionEventRequest is the single triggered-event action replacing
// v1.6's StartTransaction/StopTransaction/MeterValues, per SPEC_FULL.md
// §12: eventType Started/Updated/Ended drives the same underlying state
// machine transitions spec.md §4.D describes, only the wire shape differs.
type TransactionEventRequest struct {
	EventType       TransactionEventType `json:"eventType" validate:"required"`
	Timestamp       DateTime             `json:"timestamp" validate:"required"`
	TriggerReason   TriggerReason        `json:"triggerReason" validate:"required"`
	SeqNo           int                  `json:"seqNo" validate:"min=0"`
	TransactionInfo TransactionInfo      `json:"transactionInfo" validate:"required"`
	IdToken         *IdToken             `json:"idToken,omitempty"`
	Evse            *EVSE                `json:"evse,omitempty"`
	MeterValue      []MeterValue         `json:"meterValue,omitempty"`
}

type TransactionEventResponse struct {
	IdTokenInfo *IdTokenInfo `json:"idTokenInfo,omitempty"`
}

// FirmwareStatusNotificationRequest is a trivially-accepted pass-through,
// identical in role to ocpp16.FirmwareStatusNotificationRequest.
type FirmwareStatusNotificationRequest struct {
	Status FirmwareStatus `json:"status" validate:"required"`
}

type FirmwareStatusNotificationResponse struct{}

// DataTransferRequest mirrors ocpp16.DataTransferRequest's vendor-extension
// envelope.
type DataTransferRequest struct {
	VendorId  string      `json:"vendorId" validate:"required,max=255"`
	MessageId string      `json:"messageId,omitempty" validate:"omitempty,max=50"`
	Data      interface{} `json:"data,omitempty"`
}

type DataTransferResponse struct {
	Status string      `json:"status" validate:"required"`
	Data   interface{} `json:"data,omitempty"`
}

const (
	DataTransferStatusAccepted = "Accepted"
)

// RequestStartTransactionRequest is the outbound CS→CP command replacing
// v1.6's RemoteStartTransaction, named here for the operator/REST layer
// SPEC_FULL.md §11 assigns the send_command surface to — it is never
// decoded by V201HandlerSet, only encoded by internal/ocpp/dispatcher.
type RequestStartTransactionRequest struct {
	IdToken             IdToken `json:"idToken" validate:"required"`
	EvseId              *int    `json:"evseId,omitempty"`
	RemoteStartId       int     `json:"remoteStartId" validate:"required"`
}

type RequestStartTransactionResponse struct {
	Status        string  `json:"status" validate:"required"`
	TransactionId *string `json:"transactionId,omitempty"`
}

// RequestStopTransactionRequest replaces v1.6's RemoteStopTransaction.
type RequestStopTransactionRequest struct {
	TransactionId string `json:"transactionId" validate:"required"`
}

type RequestStopTransactionResponse struct {
	Status string `json:"status" validate:"required"`
}

// SetVariableData/SetVariablesRequest replaces v1.6's ChangeConfiguration,
// generalized from a single key/value pair to the 2.0.1 component/variable
// model.
type SetVariableData struct {
	Component    Component `json:"component" validate:"required"`
	Variable     Variable  `json:"variable" validate:"required"`
	AttributeValue string  `json:"attributeValue" validate:"required,max=2500"`
}

type Component struct {
	Name string `json:"name" validate:"required,max=50"`
}

type Variable struct {
	Name string `json:"name" validate:"required,max=50"`
}

type SetVariablesRequest struct {
	SetVariableData []SetVariableData `json:"setVariableData" validate:"required,min=1,dive"`
}

type SetVariableResult struct {
	AttributeStatus string    `json:"attributeStatus" validate:"required"`
	Component       Component `json:"component" validate:"required"`
	Variable        Variable  `json:"variable" validate:"required"`
}

type SetVariablesResponse struct {
	SetVariableResult []SetVariableResult `json:"setVariableResult" validate:"required,min=1,dive"`
}

// GetVariableData/GetVariablesRequest replaces v1.6's GetConfiguration.
type GetVariableData struct {
	Component Component `json:"component" validate:"required"`
	Variable  Variable  `json:"variable" validate:"required"`
}

type GetVariablesRequest struct {
	GetVariableData []GetVariableData `json:"getVariableData" validate:"required,min=1,dive"`
}

type GetVariableResult struct {
	AttributeStatus string    `json:"attributeStatus" validate:"required"`
	AttributeValue  string    `json:"attributeValue,omitempty"`
	Component       Component `json:"component" validate:"required"`
	Variable        Variable  `json:"variable" validate:"required"`
}

type GetVariablesResponse struct {
	GetVariableResult []GetVariableResult `json:"getVariableResult" validate:"required,min=1,dive"`
}
