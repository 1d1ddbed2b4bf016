package cmd

import (
	"fmt"
	"log/slog"

	"github.com/99scratch/WALKOFF/pkg/channels/gochannel"
	"github.com/99scratch/WALKOFF/pkg/channels/kafka"
	"github.com/99scratch/WALKOFF/pkg/eventbus"
	kafkabus "github.com/99scratch/WALKOFF/pkg/eventbus/kafka"
	"github.com/ThreeDotsLabs/watermill"
)

// NewEventBus creates the bus that carries execution events to their
// consumers. "kafka" goes through watermill, "kafka-go" talks to the brokers
// directly with one consumer group per groupID.
func NewEventBus(provider string, brokers []string, groupID string, logger *slog.Logger) eventbus.EventBus {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "gochannel":
		pub, sub := gochannel.CreateChannel(wmLogger)

		return eventbus.NewWatermillEventBus(pub, sub, logger)
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, brokers, groupID)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger)
	case "kafka-go":
		bus, err := kafkabus.NewEventBus(logger, kafkabus.Config{Brokers: brokers, GroupID: "cg-" + groupID})
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka event bus: %w", err))
		}

		return bus
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
