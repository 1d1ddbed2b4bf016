// Package kafka provides an event bus over Apache Kafka for deployments where
// event consumers live in other processes than the results collector.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/99scratch/WALKOFF/pkg/eventbus"
	"github.com/99scratch/WALKOFF/pkg/events"
	"github.com/99scratch/WALKOFF/pkg/otelhelper"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const defaultGroupID = "cg-walkoff-event-bus"

type Config struct {
	Brokers []string
	GroupID string
}

type EventBus struct {
	logger   *slog.Logger
	writer   *kafkago.Writer
	reader   *kafkago.Reader
	tracer   trace.Tracer
	handlers *eventbus.Handlers
}

func NewEventBus(logger *slog.Logger, config Config) (*EventBus, error) {
	if len(config.Brokers) == 0 || config.Brokers[0] == "" {
		return nil, errors.New("no Kafka brokers configured")
	}

	groupID := config.GroupID
	if groupID == "" {
		groupID = defaultGroupID
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(config.Brokers...),
		Topic:                  eventbus.Topic,
		Balancer:               &kafkago.Hash{},
		AllowAutoTopicCreation: true,
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: config.Brokers,
		Topic:   eventbus.Topic,
		GroupID: groupID,
	})

	return &EventBus{
		logger:   logger.With("module", "kafka_eventbus"),
		writer:   writer,
		reader:   reader,
		tracer:   otel.Tracer("walkoff.eventbus.kafka"),
		handlers: eventbus.NewHandlers(),
	}, nil
}

// Publish writes the event keyed by key so one execution's events stay ordered
// within a partition. The trace context travels in the message headers.
func (k *EventBus) Publish(ctx context.Context, key string, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]kafkago.Header, 0, len(carrier)+2)
	for key, value := range carrier {
		headers = append(headers, kafkago.Header{Key: key, Value: []byte(value)})
	}

	headers = append(headers,
		kafkago.Header{Key: eventbus.MetadataKey, Value: []byte(key)},
		kafkago.Header{Key: eventbus.MetadataEventType, Value: []byte(event.GetType())},
	)

	return k.writer.WriteMessages(context.WithoutCancel(ctx), kafkago.Message{
		Key:     []byte(key),
		Value:   payload,
		Headers: headers,
	})
}

func (k *EventBus) Subscribe(ctx context.Context) error {
	k.logger.InfoContext(ctx, "Subscribing to events")

	go k.consume(ctx)

	return nil
}

func (k *EventBus) consume(ctx context.Context) {
	for {
		message, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				k.logger.InfoContext(ctx, "Stopping consumer due to context cancellation or deadline exceeded")

				return
			}

			k.logger.ErrorContext(ctx, "failed to fetch message", "error", err)

			continue
		}

		k.handle(ctx, message)

		err = k.reader.CommitMessages(ctx, message)
		if err != nil {
			k.logger.ErrorContext(ctx, "Failed to commit message", "error", err)
		}
	}
}

func (k *EventBus) handle(ctx context.Context, message kafkago.Message) {
	carrier := propagation.MapCarrier{}
	for _, header := range message.Headers {
		carrier[header.Key] = string(header.Value)
	}

	msgCtx := otel.GetTextMapPropagator().Extract(ctx, carrier)

	traceCtx, span := otelhelper.StartSpan(msgCtx, k.tracer, "eventbus.consume",
		attribute.String("kafka.key", string(message.Key)),
		attribute.String("kafka.topic", message.Topic),
	)
	defer span.End()

	var event events.Event

	err := json.Unmarshal(message.Value, &event)
	if err != nil {
		k.logger.ErrorContext(msgCtx, "Failed to unmarshal event", "error", err)
		otelhelper.SetError(span, err)

		return
	}

	err = k.handlers.Dispatch(traceCtx, event)
	if err != nil {
		k.logger.ErrorContext(msgCtx, "Failed to handle event", "error", err, "event_type", event.Type)
		otelhelper.SetError(span, err)

		return
	}

	k.logger.DebugContext(msgCtx, "Handled event", "event_type", event.Type)
}

func (k *EventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	k.handlers.Add(eventType, handler)

	return nil
}

func (k *EventBus) HandleAll(handler eventbus.EventHandler) error {
	k.handlers.AddAll(handler)

	return nil
}

func (k *EventBus) Close() error {
	err := k.writer.Close()
	if err != nil {
		return err
	}

	return k.reader.Close()
}

func (k *EventBus) GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
