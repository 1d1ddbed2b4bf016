package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport publishes wire messages on watermill topics and exposes the
// subscriptions of the worker and results topics.
type Transport struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
}

func NewTransport(publisher message.Publisher, subscriber message.Subscriber, logger *slog.Logger) *Transport {
	return &Transport{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger.With("module", "wire_transport"),
	}
}

func (t *Transport) SendExecute(ctx context.Context, workerID string, request ExecuteWorkflow) error {
	return t.publish(ctx, WorkerTopic(workerID), MessageExecuteWorkflow, request.ExecutionID, request)
}

func (t *Transport) SendControl(ctx context.Context, workerID string, control Control) error {
	return t.publish(ctx, WorkerTopic(workerID), MessageControl, control.ExecutionID, control)
}

func (t *Transport) PublishResult(ctx context.Context, result ResultEvent) error {
	return t.publish(ctx, ResultsTopic, MessageResultEvent, result.ExecutionID, result)
}

// WorkerMessages subscribes to the requests and control messages of a worker.
func (t *Transport) WorkerMessages(ctx context.Context, workerID string) (<-chan *message.Message, error) {
	return t.subscriber.Subscribe(ctx, WorkerTopic(workerID))
}

// Results subscribes to the results topic.
func (t *Transport) Results(ctx context.Context) (<-chan *message.Message, error) {
	return t.subscriber.Subscribe(ctx, ResultsTopic)
}

func (t *Transport) Close() error {
	err := t.publisher.Close()
	if err != nil {
		return err
	}

	return t.subscriber.Close()
}

func (t *Transport) publish(ctx context.Context, topic string, messageType MessageType, executionID string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", messageType, err)
	}

	msg := message.NewMessage("msg-"+watermill.NewULID(), payload)
	msg.Metadata.Set(MetadataMessageType, string(messageType))
	msg.Metadata.Set(MetadataExecutionID, executionID)
	msg.SetContext(ctx)

	err = t.publisher.Publish(topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish %s on %s: %w", messageType, topic, err)
	}

	t.logger.DebugContext(ctx, "Published message", "topic", topic, "message_type", messageType, "execution_id", executionID)

	return nil
}

// TypeOf returns the message type recorded in msg's metadata.
func TypeOf(msg *message.Message) MessageType {
	return MessageType(msg.Metadata.Get(MetadataMessageType))
}
