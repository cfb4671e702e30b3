package publisher

import (
	"context"
	"encoding/json"

	"sre_assistant/internal/models"
	"sre_assistant/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// TaskPublisher is responsible for publishing diagnostic tasks to Kafka.
type TaskPublisher struct {
	writer *kafka.Writer
	logger *logger.Logger
}

// NewTaskPublisher creates a TaskPublisher over an existing writer. The
// writer is shared with the Kafka singleton and closed there.
func NewTaskPublisher(writer *kafka.Writer, logger *logger.Logger) *TaskPublisher {
	return &TaskPublisher{
		writer: writer,
		logger: logger,
	}
}

// Publish sends a task envelope to the tasks topic. The session ID is used
// as the message key so retries of one session stay ordered.
func (p *TaskPublisher) Publish(ctx context.Context, envelope models.TaskEnvelope) error {
	msgBytes, err := json.Marshal(envelope)
	if err != nil {
		p.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to marshal task for Kafka")
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(envelope.SessionID),
		Value: msgBytes,
	})
	if err != nil {
		p.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{"topic": p.writer.Topic}).Error("Failed to write message to Kafka")
		return err
	}
	return nil
}
