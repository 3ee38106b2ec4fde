// Package ocpperrors defines the error taxonomy shared by the frame codec,
// inbound handler set, and command dispatcher. Each kind knows how to map
// itself onto an OCPP CALLERROR code so the frame layer never needs a
// string-matching switch of its own.
package ocpperrors

import "fmt"

// Code is an OCPP CALLERROR errorCode string.
type Code string

const (
	CodeFormationViolation         Code = "FormationViolation"
	CodePropertyConstraintViolation Code = "PropertyConstraintViolation"
	CodeNotImplemented             Code = "NotImplemented"
	CodeNotSupported               Code = "NotSupported"
	CodeGenericError               Code = "GenericError"
	CodeInternalError              Code = "InternalError"
	CodeProtocolError              Code = "ProtocolError"
	CodeSecurityError              Code = "SecurityError"
)

// WireError is implemented by every error kind that can be turned into a
// CALLERROR frame.
type WireError interface {
	error
	OCPPErrorCode() Code
}

// DecodeError reports a malformed frame. Extractable uniqueId, if any, lets
// the connection reply with a CALLERROR instead of closing the socket.
type DecodeError struct {
	UniqueID string // empty if not extractable
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %s", e.Reason)
}

func (e *DecodeError) OCPPErrorCode() Code { return CodeFormationViolation }

// SchemaError reports a payload that failed validation against its action's
// schema (missing required field, wrong type, out-of-range value).
type SchemaError struct {
	Action string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error for %s: %s", e.Action, e.Reason)
}

func (e *SchemaError) OCPPErrorCode() Code { return CodePropertyConstraintViolation }

// UnknownAction reports a CALL whose action has no registered handler for
// the negotiated protocol version.
type UnknownAction struct {
	Action string
}

func (e *UnknownAction) Error() string {
	return fmt.Sprintf("unknown action: %s", e.Action)
}

func (e *UnknownAction) OCPPErrorCode() Code { return CodeNotImplemented }

// ProtocolError reports an illegal state transition attempted by the CP
// (e.g. StopTransaction for an unknown transactionId, or a StopTransaction
// idTag mismatch). It never mutates state.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return e.Reason }

func (e *ProtocolError) OCPPErrorCode() Code { return CodeGenericError }

// InternalError wraps a repository or programming failure. Callers should
// log it at ERROR with correlation fields before returning the CALLERROR.
type InternalError struct {
	Cause error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Cause)
}

func (e *InternalError) Unwrap() error { return e.Cause }

func (e *InternalError) OCPPErrorCode() Code { return CodeInternalError }

// BackpressureError is returned by Connection.SendFrame when the outbound
// queue is full; the frame is not enqueued and is never silently dropped.
// The dispatcher's SendCommand returns it unchanged as the Result error and
// does not retry the send.
type BackpressureError struct {
	ChargePointID string
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("outbound queue full for %s", e.ChargePointID)
}

// NotConnected is returned by any outbound operation (send_command,
// registry.send) targeting a chargePointId with no live Connection.
type NotConnected struct {
	ChargePointID string
}

func (e *NotConnected) Error() string {
	return fmt.Sprintf("charge point not connected: %s", e.ChargePointID)
}

// CommandErrorKind enumerates the outcomes of an outbound send_command.
type CommandErrorKind string

const (
	CommandErrorRemote       CommandErrorKind = "Remote"
	CommandErrorTimeout      CommandErrorKind = "Timeout"
	CommandErrorDisconnected CommandErrorKind = "Disconnected"
	CommandErrorCancelled    CommandErrorKind = "Cancelled"
)

// CommandError is the result of a failed send_command. A Remote error
// carries the CP's own CALLERROR code/description verbatim and is not an
// internal failure — it must be surfaced to the operator as-is.
type CommandError struct {
	Kind        CommandErrorKind
	RemoteCode  string // set only when Kind == CommandErrorRemote
	RemoteDesc  string
}

func (e *CommandError) Error() string {
	switch e.Kind {
	case CommandErrorRemote:
		return fmt.Sprintf("command rejected by charge point: %s (%s)", e.RemoteCode, e.RemoteDesc)
	default:
		return fmt.Sprintf("command error: %s", e.Kind)
	}
}
