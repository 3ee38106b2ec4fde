// Package frame implements the version-agnostic OCPP-J wire envelope: the
// three-or-four element JSON array that carries a CALL, CALLRESULT, or
// CALLERROR. It knows nothing about any particular action's payload shape —
// that is the inbound handler set's and the dispatcher's job — it only
// knows how to pull the envelope apart and put it back together.
package frame

import (
	"encoding/json"
	"fmt"

	"github.com/ocpp-csms/core/internal/ocpp/ocpperrors"
)

// MessageType is the first element of every OCPP-J array.
type MessageType int

const (
	Call       MessageType = 2
	CallResult MessageType = 3
	CallError  MessageType = 4
)

// DefaultMaxFrameBytes is the default read-limit applied before Decode is even
// attempted; callers (the Connection reader) enforce it at the websocket
// layer via SetReadLimit, this constant only documents the default that
// config.OCPPConfig.MaxFrameBytes overrides.
const DefaultMaxFrameBytes = 65536

// Frame is the parsed form of one OCPP-J message, with the payload left as
// raw JSON since only the caller (keyed by Action for a CALL, or by the
// outstanding PendingCall for a CALLRESULT/CALLERROR) knows which struct to
// unmarshal it into.
type Frame struct {
	Type             MessageType
	UniqueID         string
	Action           string          // set only for Call
	Payload          json.RawMessage // Call: request payload; CallResult: response payload
	ErrorCode        string          // set only for CallError
	ErrorDescription string          // set only for CallError
	ErrorDetails     json.RawMessage // set only for CallError, may be nil
}

// Decode parses a raw websocket text message into a Frame. Any failure is
// returned as a *ocpperrors.DecodeError, with UniqueID populated when the
// array was at least long enough to extract it — that lets the caller still
// reply with a CALLERROR instead of dropping the connection.
func Decode(data []byte) (*Frame, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ocpperrors.DecodeError{Reason: fmt.Sprintf("not a JSON array: %v", err)}
	}
	if len(raw) < 3 {
		return nil, &ocpperrors.DecodeError{Reason: "message array too short"}
	}

	var msgType int
	if err := json.Unmarshal(raw[0], &msgType); err != nil {
		return nil, &ocpperrors.DecodeError{Reason: fmt.Sprintf("invalid messageTypeId: %v", err)}
	}

	var uniqueID string
	if err := json.Unmarshal(raw[1], &uniqueID); err != nil {
		return nil, &ocpperrors.DecodeError{Reason: fmt.Sprintf("invalid uniqueId: %v", err)}
	}

	switch MessageType(msgType) {
	case Call:
		if len(raw) != 4 {
			return nil, &ocpperrors.DecodeError{UniqueID: uniqueID, Reason: "CALL must have exactly 4 elements"}
		}
		var action string
		if err := json.Unmarshal(raw[2], &action); err != nil {
			return nil, &ocpperrors.DecodeError{UniqueID: uniqueID, Reason: fmt.Sprintf("invalid action: %v", err)}
		}
		return &Frame{Type: Call, UniqueID: uniqueID, Action: action, Payload: raw[3]}, nil

	case CallResult:
		if len(raw) != 3 {
			return nil, &ocpperrors.DecodeError{UniqueID: uniqueID, Reason: "CALLRESULT must have exactly 3 elements"}
		}
		return &Frame{Type: CallResult, UniqueID: uniqueID, Payload: raw[2]}, nil

	case CallError:
		if len(raw) < 4 || len(raw) > 5 {
			return nil, &ocpperrors.DecodeError{UniqueID: uniqueID, Reason: "CALLERROR must have 4 or 5 elements"}
		}
		var code, desc string
		if err := json.Unmarshal(raw[2], &code); err != nil {
			return nil, &ocpperrors.DecodeError{UniqueID: uniqueID, Reason: fmt.Sprintf("invalid errorCode: %v", err)}
		}
		if err := json.Unmarshal(raw[3], &desc); err != nil {
			return nil, &ocpperrors.DecodeError{UniqueID: uniqueID, Reason: fmt.Sprintf("invalid errorDescription: %v", err)}
		}
		f := &Frame{Type: CallError, UniqueID: uniqueID, ErrorCode: code, ErrorDescription: desc}
		if len(raw) == 5 {
			f.ErrorDetails = raw[4]
		}
		return f, nil

	default:
		return nil, &ocpperrors.DecodeError{UniqueID: uniqueID, Reason: fmt.Sprintf("unknown messageTypeId: %d", msgType)}
	}
}

// EncodeCall serializes a CS→CP CALL.
func EncodeCall(uniqueID, action string, payload interface{}) ([]byte, error) {
	return json.Marshal([]interface{}{Call, uniqueID, action, payload})
}

// EncodeCallResult serializes a CALLRESULT reply.
func EncodeCallResult(uniqueID string, payload interface{}) ([]byte, error) {
	return json.Marshal([]interface{}{CallResult, uniqueID, payload})
}

// EncodeCallError serializes a CALLERROR reply. details may be nil, in which
// case it is encoded as an empty JSON object per the OCPP-J spec.
func EncodeCallError(uniqueID string, code ocpperrors.Code, description string, details interface{}) ([]byte, error) {
	if details == nil {
		details = struct{}{}
	}
	return json.Marshal([]interface{}{CallError, uniqueID, string(code), description, details})
}
