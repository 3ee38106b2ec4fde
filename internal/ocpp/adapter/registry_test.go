package adapter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubHandlerSet struct{ version string }

func (s *stubHandlerSet) Handle(ctx context.Context, chargePointID, action string, payload json.RawMessage) (interface{}, error) {
	return nil, nil
}

func TestResolveExactMatch(t *testing.T) {
	r := New(Config{})
	v16 := &stubHandlerSet{version: "ocpp1.6"}
	v201 := &stubHandlerSet{version: "ocpp2.0.1"}
	r.Register("ocpp1.6", v16)
	r.Register("ocpp2.0.1", v201)

	bundle, ok := r.Resolve("ocpp1.6")
	assert.True(t, ok)
	assert.Same(t, v16, bundle.Handlers)

	bundle, ok = r.Resolve("ocpp2.0.1")
	assert.True(t, ok)
	assert.Same(t, v201, bundle.Handlers)
}

func TestResolveNormalizesAlternateSpellings(t *testing.T) {
	r := New(Config{})
	v16 := &stubHandlerSet{}
	r.Register("ocpp1.6", v16)

	bundle, ok := r.Resolve("OCPP1.6")
	assert.True(t, ok)
	assert.Same(t, v16, bundle.Handlers)

	bundle, ok = r.Resolve("1.6")
	assert.True(t, ok)
	assert.Same(t, v16, bundle.Handlers)
}

func TestResolveUnknownSubprotocolWithoutFallbackIsRejected(t *testing.T) {
	r := New(Config{})
	r.Register("ocpp1.6", &stubHandlerSet{})

	_, ok := r.Resolve("ocpp2.0")
	assert.False(t, ok)

	_, ok = r.Resolve("")
	assert.False(t, ok)
}

func TestResolveUnknownSubprotocolWithPermissiveFallback(t *testing.T) {
	v16 := &stubHandlerSet{}
	r := New(Config{PermissiveSubprotocolFallback: true, FallbackVersion: "ocpp1.6"})
	r.Register("ocpp1.6", v16)

	bundle, ok := r.Resolve("some-vendor-subprotocol")
	assert.True(t, ok)
	assert.Same(t, v16, bundle.Handlers)
}

func TestResolvePermissiveFallbackWithoutRegisteredFallbackBundleIsRejected(t *testing.T) {
	r := New(Config{PermissiveSubprotocolFallback: true, FallbackVersion: "ocpp1.6"})
	// Fallback version configured but never registered.
	_, ok := r.Resolve("unknown")
	assert.False(t, ok)
}

func TestSupportedSubprotocolsListsEveryRegisteredBundle(t *testing.T) {
	r := New(Config{})
	r.Register("ocpp1.6", &stubHandlerSet{})
	r.Register("ocpp2.0.1", &stubHandlerSet{})

	got := r.SupportedSubprotocols()
	assert.ElementsMatch(t, []string{"ocpp1.6", "ocpp2.0.1"}, got)
}
