package frame

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocpp-csms/core/internal/ocpp/ocpperrors"
)

func TestEncodeDecodeCallRoundTrip(t *testing.T) {
	data, err := EncodeCall("123", "BootNotification", map[string]string{"chargePointVendor": "Acme"})
	require.NoError(t, err)

	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, Call, f.Type)
	assert.Equal(t, "123", f.UniqueID)
	assert.Equal(t, "BootNotification", f.Action)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	assert.Equal(t, "Acme", payload["chargePointVendor"])
}

func TestEncodeDecodeCallResultRoundTrip(t *testing.T) {
	data, err := EncodeCallResult("abc", map[string]int{"interval": 300})
	require.NoError(t, err)

	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, CallResult, f.Type)
	assert.Equal(t, "abc", f.UniqueID)

	var payload map[string]int
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	assert.Equal(t, 300, payload["interval"])
}

func TestEncodeDecodeCallErrorRoundTrip(t *testing.T) {
	data, err := EncodeCallError("xyz", ocpperrors.CodeFormationViolation, "bad frame", nil)
	require.NoError(t, err)

	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, CallError, f.Type)
	assert.Equal(t, "xyz", f.UniqueID)
	assert.Equal(t, string(ocpperrors.CodeFormationViolation), f.ErrorCode)
	assert.Equal(t, "bad frame", f.ErrorDescription)
}

func TestDecodeMalformedFrameRecoversUniqueID(t *testing.T) {
	// A CALL with the wrong number of elements: uniqueId is still
	// extractable even though the overall frame is invalid, which is what
	// lets the caller reply with a CALLERROR instead of dropping the
	// connection.
	data := []byte(`[2, "recoverable-id", "BootNotification"]`)

	f, err := Decode(data)
	assert.Nil(t, f)
	require.Error(t, err)

	var decodeErr *ocpperrors.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "recoverable-id", decodeErr.UniqueID)
	assert.Equal(t, ocpperrors.CodeFormationViolation, decodeErr.OCPPErrorCode())
}

func TestDecodeGarbageHasNoRecoverableUniqueID(t *testing.T) {
	data := []byte(`not even json`)

	f, err := Decode(data)
	assert.Nil(t, f)
	require.Error(t, err)

	var decodeErr *ocpperrors.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Empty(t, decodeErr.UniqueID)
}

func TestDecodeUnknownMessageType(t *testing.T) {
	data := []byte(`[9, "id-1", "Whatever", {}]`)

	_, err := Decode(data)
	require.Error(t, err)
	var decodeErr *ocpperrors.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "id-1", decodeErr.UniqueID)
}
