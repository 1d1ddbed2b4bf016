package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/99scratch/WALKOFF/pkg/events"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	handlers   *Handlers
	logger     *slog.Logger
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
		handlers:   NewHandlers(),
		logger:     logger.With("module", "eventbus"),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(MetadataKey, key)
	msg.Metadata.Set(MetadataEventType, string(event.GetType()))
	msg.SetContext(ctx)

	return eb.publisher.Publish(Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var event events.Event

			err := json.Unmarshal(msg.Payload, &event)
			if err != nil {
				eb.logger.ErrorContext(ctx, "Failed to unmarshal event", "error", err, "event_type", msg.Metadata.Get(MetadataEventType))
				msg.Ack()

				continue
			}

			err = eb.handlers.Dispatch(ctx, event)
			if err != nil {
				eb.logger.ErrorContext(ctx, "Failed to handle event", "error", err, "event_type", event.Type)
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.handlers.Add(eventType, handler)

	return nil
}

func (eb *WatermillEventBus) HandleAll(handler EventHandler) error {
	eb.handlers.AddAll(handler)

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
