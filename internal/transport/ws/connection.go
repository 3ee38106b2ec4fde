// Package ws implements the per-socket Connection described in spec.md
// §4.B: one bounded outbound queue, a reader goroutine and a writer
// goroutine, and an idempotent Close that the registry and the liveness
// monitor can both call without coordinating with each other.
package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ocpp-csms/core/internal/domain/events"
	"github.com/ocpp-csms/core/internal/events/bus"
	"github.com/ocpp-csms/core/internal/logger"
	"github.com/ocpp-csms/core/internal/ocpp/ocpperrors"
)

// FrameHandler processes one inbound text frame. Called from the reader
// goroutine, so it must not block for long — the inbound handler set is
// expected to hand off any slow work (repository calls) internally and
// return promptly so the next frame can be read and liveness stays
// accurate.
type FrameHandler func(chargePointID string, data []byte)

// Config controls per-connection behavior; the values come from the OCPP,
// Server and WebSocket config sections so every Connection in the process
// shares one policy.
type Config struct {
	OutboundQueueCapacity int
	MaxFrameBytes         int64
	WriteTimeout          time.Duration
	PongWait              time.Duration
	PingInterval          time.Duration
}

func DefaultConfig() Config {
	return Config{
		OutboundQueueCapacity: 128,
		MaxFrameBytes:         65536,
		WriteTimeout:          10 * time.Second,
		PongWait:              60 * time.Second,
		PingInterval:          30 * time.Second,
	}
}

// Connection wraps one upgraded websocket for one charge point. It
// satisfies registry.Conn.
type Connection struct {
	chargePointID   string
	protocolVersion string
	conn            *websocket.Conn
	config          Config
	logger          *logger.Logger
	onFrame         FrameHandler
	onClose         func(reason string)
	bus             *bus.Bus

	sendQueue chan []byte
	closed    atomic.Bool
	closeOnce sync.Once

	lastFrameAt atomic.Value // time.Time

	doneCh chan struct{}
	wg     sync.WaitGroup
}

// New wraps an already-upgraded *websocket.Conn. The caller is expected to
// have already negotiated the subprotocol and performed the registry
// Register() call before calling Serve, so a Debounced connection is never
// spun up at all.
func New(conn *websocket.Conn, chargePointID, protocolVersion string, config Config, log *logger.Logger, eventBus *bus.Bus, onFrame FrameHandler, onClose func(reason string)) *Connection {
	c := &Connection{
		chargePointID:   chargePointID,
		protocolVersion: protocolVersion,
		conn:            conn,
		config:          config,
		logger:          log,
		onFrame:         onFrame,
		onClose:         onClose,
		bus:             eventBus,
		sendQueue:       make(chan []byte, config.OutboundQueueCapacity),
		doneCh:          make(chan struct{}),
	}
	c.lastFrameAt.Store(time.Now())
	conn.SetReadLimit(config.MaxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(config.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})
	return c
}

// ChargePointID implements registry.Conn.
func (c *Connection) ChargePointID() string { return c.chargePointID }

// ProtocolVersion returns the negotiated OCPP subprotocol version.
func (c *Connection) ProtocolVersion() string { return c.protocolVersion }

// LastFrameAt implements registry.Conn; read by the liveness monitor.
func (c *Connection) LastFrameAt() time.Time {
	return c.lastFrameAt.Load().(time.Time)
}

func (c *Connection) touch() {
	c.lastFrameAt.Store(time.Now())
}

// Serve runs the reader and writer goroutines and blocks until the
// connection closes, either because the peer disconnected, the context was
// cancelled, or Close was called from elsewhere (registry replace, liveness
// eviction, graceful shutdown).
func (c *Connection) Serve() {
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	c.wg.Wait()
}

// SendFrame enqueues an outbound frame. Returns *ocpperrors.BackpressureError
// if the queue is full — the caller never blocks and the frame is never
// silently dropped; the dispatcher returns this error to its caller
// unchanged and does not retry.
func (c *Connection) SendFrame(data []byte) error {
	if c.closed.Load() {
		return &ocpperrors.NotConnected{ChargePointID: c.chargePointID}
	}
	select {
	case c.sendQueue <- data:
		return nil
	default:
		return &ocpperrors.BackpressureError{ChargePointID: c.chargePointID}
	}
}

// Close is idempotent: concurrent callers (registry replace, liveness
// sweep, peer-initiated disconnect, graceful shutdown) can all call it and
// only the first one runs the teardown. It does not block on the reader/
// writer goroutines exiting — callers that need that guarantee should wait
// on Serve's return instead (e.g. via the Connection's owning goroutine).
func (c *Connection) Close(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.doneCh)
		err = c.conn.Close()
		if c.onClose != nil {
			c.onClose(reason)
		}
		if c.bus != nil {
			factory := events.NewEventFactory()
			c.bus.Publish(factory.CreateChargePointDisconnectedEvent(c.chargePointID, reason, events.Metadata{
				Source:          "transport.ws",
				ProtocolVersion: c.protocolVersion,
			}))
		}
		if c.logger != nil {
			c.logger.Infof("connection closed for %s: %s", c.chargePointID, reason)
		}
	})
	return err
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	defer c.Close("reader exited")
	for {
		select {
		case <-c.doneCh:
			return
		default:
		}
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()
		if msgType != websocket.TextMessage {
			continue
		}
		if c.onFrame != nil {
			c.onFrame(c.chargePointID, data)
		}
	}
}

func (c *Connection) writeLoop() {
	defer c.wg.Done()
	pingTicker := time.NewTicker(c.config.PingInterval)
	defer pingTicker.Stop()
	for {
		select {
		case <-c.doneCh:
			return
		case data, ok := <-c.sendQueue:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
