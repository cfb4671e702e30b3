package consumer

import (
	"context"
	"time"

	"sre_assistant/internal/models"
	"sre_assistant/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// messageReader is the slice of kafka.Reader the consumer loop needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// TaskConsumer is responsible for consuming diagnostic tasks from Kafka
// and handing them to the workflow worker.
type TaskConsumer struct {
	reader messageReader
	logger *logger.Logger

	// fetchRetryDelay paces the loop when the broker keeps erroring.
	fetchRetryDelay time.Duration
}

// NewTaskConsumer creates a TaskConsumer over an existing reader. The
// reader is shared with the Kafka singleton and closed there.
func NewTaskConsumer(reader *kafka.Reader, logger *logger.Logger) *TaskConsumer {
	return &TaskConsumer{
		reader:          reader,
		logger:          logger,
		fetchRetryDelay: time.Second,
	}
}

// Start begins consuming messages from the tasks topic. A handler error is
// logged but the message is still committed: the task record already holds
// the failure, redelivery would only run the same diagnosis twice.
func (c *TaskConsumer) Start(ctx context.Context, handler func(kafka.Message) error) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("Stopping Kafka task consumer...")
				return
			default:
				msg, err := c.reader.FetchMessage(ctx)
				if err != nil {
					if ctx.Err() == nil {
						c.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error fetching message from Kafka")
						// Pace the loop so a dead broker does not spin it hot.
						select {
						case <-ctx.Done():
						case <-time.After(c.fetchRetryDelay):
						}
					}
					continue
				}

				if err := handler(msg); err != nil {
					c.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{
						"topic":     msg.Topic,
						"partition": msg.Partition,
						"offset":    msg.Offset,
					}).Error("Error handling Kafka message")
				}

				if err := c.reader.CommitMessages(ctx, msg); err != nil {
					c.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to commit Kafka message")
				}
			}
		}
	}()
}
