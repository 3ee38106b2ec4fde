// Package kafkacmd adapts internal/message's KafkaConsumer into the
// downstream command transport named in SPEC_FULL.md §11: an operator-facing
// system publishes a send_command request onto the command topic, the pod
// holding that charge point's live Connection consumes it (partitioned by
// podID, per internal/message/kafka_consumer.go's ownedPartition), and the
// result is handed to internal/ocpp/dispatcher.Dispatcher.SendCommand.
package kafkacmd

import (
	"context"
	"time"

	"github.com/ocpp-csms/core/internal/logger"
	"github.com/ocpp-csms/core/internal/message"
	"github.com/ocpp-csms/core/internal/ocpp/dispatcher"
)

// Config controls how long one relayed command is allowed to wait for its
// CALLRESULT/CALLERROR before the dispatcher gives up.
type Config struct {
	CommandTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{CommandTimeout: 30 * time.Second}
}

// Sink drives a KafkaConsumer and relays every Command it decodes to the
// dispatcher. Consumption itself is owned by the KafkaConsumer; Sink only
// supplies the CommandHandler.
type Sink struct {
	consumer   *message.KafkaConsumer
	dispatcher *dispatcher.Dispatcher
	config     Config
	logger     *logger.Logger
}

func New(consumer *message.KafkaConsumer, d *dispatcher.Dispatcher, config Config, log *logger.Logger) *Sink {
	return &Sink{consumer: consumer, dispatcher: d, config: config, logger: log}
}

// Start registers the relay handler and begins consumption.
func (s *Sink) Start() error {
	return s.consumer.Start(s.handle)
}

func (s *Sink) Close() error {
	return s.consumer.Close()
}

// handle runs on the Kafka claim's own goroutine (message.KafkaConsumer's
// ConsumeClaim), so the actual send is handed off to its own goroutine —
// SendCommand blocks for up to CommandTimeout waiting on the charge point's
// CALLRESULT, and holding up ConsumeClaim that long would stall every other
// command queued behind it on the same partition.
func (s *Sink) handle(cmd *message.Command) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.CommandTimeout)
		defer cancel()

		var payload interface{} = cmd.Payload
		result := s.dispatcher.SendCommand(ctx, cmd.ChargePointID, cmd.CommandName, payload, s.config.CommandTimeout)
		if result.Err != nil {
			if s.logger != nil {
				s.logger.Warnf("relayed command %s for %s failed: %v", cmd.CommandName, cmd.ChargePointID, result.Err)
			}
			return
		}
		if s.logger != nil {
			s.logger.Infof("relayed command %s for %s completed", cmd.CommandName, cmd.ChargePointID)
		}
	}()
}
