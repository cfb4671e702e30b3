package consumer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"sre_assistant/pkg/logger"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	fetches int32
	err     error
}

func (s *stubReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	atomic.AddInt32(&s.fetches, 1)
	return kafka.Message{}, s.err
}

func (s *stubReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	return nil
}

// A broker that keeps failing must not spin the fetch loop hot.
func TestFetchErrorsArePaced(t *testing.T) {
	stub := &stubReader{err: errors.New("broker unavailable")}
	c := &TaskConsumer{
		reader:          stub,
		logger:          logger.New("consumer-test", ""),
		fetchRetryDelay: 20 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	var handled int32
	c.Start(ctx, func(kafka.Message) error {
		atomic.AddInt32(&handled, 1)
		return nil
	})

	time.Sleep(100 * time.Millisecond)
	cancel()

	fetches := atomic.LoadInt32(&stub.fetches)
	require.GreaterOrEqual(t, fetches, int32(2))
	require.LessOrEqual(t, fetches, int32(20))
	require.Zero(t, atomic.LoadInt32(&handled))
}
