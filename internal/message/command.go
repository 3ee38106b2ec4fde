package message

import (
	"context"

	"github.com/IBM/sarama"
)

// Command is the wire shape for a downstream instruction arriving on the
// command topic: some other component (an operator API, a billing system)
// wants this gateway to relay an OCPP command to a charge point it is
// holding the live Connection for.
type Command struct {
	ChargePointID string                 `json:"chargePointId"`
	CommandName   string                 `json:"commandName"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}

// CommandHandler is invoked once per Command consumed from the command
// topic, on the claim's own goroutine — slow work must be handed off
// internally so the next message in the partition can be consumed.
type CommandHandler func(cmd *Command)

// SaramaConsumerGroup is the subset of sarama.ConsumerGroup that
// KafkaConsumer depends on, narrowed so tests can substitute a mock
// without standing up a real broker.
type SaramaConsumerGroup interface {
	Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error
	Close() error
}
