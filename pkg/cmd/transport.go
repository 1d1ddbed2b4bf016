package cmd

import (
	"fmt"
	"log/slog"

	"github.com/99scratch/WALKOFF/pkg/channels/gochannel"
	"github.com/99scratch/WALKOFF/pkg/channels/kafka"
	"github.com/99scratch/WALKOFF/pkg/wire"
	"github.com/ThreeDotsLabs/watermill"
)

// NewTransport creates the dispatcher/worker transport. The gochannel
// provider only connects components living in the same process.
func NewTransport(provider string, brokers []string, serviceName string, logger *slog.Logger) *wire.Transport {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "gochannel":
		pub, sub := gochannel.CreateChannel(wmLogger)

		return wire.NewTransport(pub, sub, logger)
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, brokers, serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return wire.NewTransport(pub, sub, logger)
	default:
		panic("Unsupported transport provider: " + provider)
	}
}
