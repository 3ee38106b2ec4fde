// Package adapter implements the protocol adapter registry described in
// spec.md §4.I: given a negotiated WebSocket subprotocol, resolve the
// {inbound handler set, outbound serializer} bundle that understands it.
// It is the one place in the core that knows both OCPP 1.6J and OCPP
// 2.0.1 exist; every other component only ever sees "the negotiated
// bundle for this connection."
package adapter

import (
	"context"
	"encoding/json"

	"github.com/ocpp-csms/core/internal/domain/protocol"
)

// HandlerSet handles one CALL for one protocol version and returns the
// CALLRESULT payload to send back, or an error from internal/ocpp/ocpperrors
// to be turned into a CALLERROR. Implemented by internal/ocpp/handlers'
// V16HandlerSet (v1.6) and V201HandlerSet (v2.0.1).
type HandlerSet interface {
	// Handle dispatches one inbound action for chargePointID and returns the
	// response payload to serialize back as a CALLRESULT.
	Handle(ctx context.Context, chargePointID, action string, payload json.RawMessage) (interface{}, error)
}

// Bundle is everything the connection layer needs once a subprotocol has
// been negotiated.
type Bundle struct {
	Version string
	Handlers HandlerSet
}

// Registry maps a normalized protocol version to its Bundle.
type Registry struct {
	bundles                     map[string]Bundle
	permissiveFallback          bool
	fallbackVersion             string
}

// Config controls fallback behavior when a CP offers no subprotocol the
// registry recognizes.
type Config struct {
	PermissiveSubprotocolFallback bool
	FallbackVersion               string
}

func New(config Config) *Registry {
	return &Registry{
		bundles:            make(map[string]Bundle),
		permissiveFallback: config.PermissiveSubprotocolFallback,
		fallbackVersion:    config.FallbackVersion,
	}
}

// Register adds a bundle for a protocol version (e.g. "ocpp1.6", "ocpp2.0.1").
func (r *Registry) Register(version string, handlers HandlerSet) {
	r.bundles[version] = Bundle{Version: version, Handlers: handlers}
}

// SupportedSubprotocols returns every registered version, for use as the
// gorilla/websocket Upgrader's Subprotocols list so subprotocol negotiation
// only ever succeeds against a version this registry actually has a bundle
// for.
func (r *Registry) SupportedSubprotocols() []string {
	out := make([]string, 0, len(r.bundles))
	for v := range r.bundles {
		out = append(out, v)
	}
	return out
}

// Resolve picks the bundle for a negotiated (or absent) subprotocol.
// Behavior:
//   - an exact, normalized match returns that bundle and true.
//   - no match and PermissiveSubprotocolFallback is false: (zero, false) —
//     the caller rejects the upgrade with HTTP 400, per spec.md §9's
//     Open Question resolution (see DESIGN.md).
//   - no match and PermissiveSubprotocolFallback is true: falls back to
//     FallbackVersion if that bundle exists, otherwise (zero, false).
func (r *Registry) Resolve(rawSubprotocol string) (Bundle, bool) {
	normalized := protocol.NormalizeVersion(rawSubprotocol)
	if normalized != "" {
		if b, ok := r.bundles[normalized]; ok {
			return b, true
		}
	}
	if !r.permissiveFallback {
		return Bundle{}, false
	}
	if b, ok := r.bundles[r.fallbackVersion]; ok {
		return b, true
	}
	return Bundle{}, false
}
