package kafka

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/citeresolve/internal/testutil"
	"github.com/turtacn/citeresolve/pkg/errors"
	"github.com/turtacn/citeresolve/pkg/types/common"
)

// mockKafkaReader serves queued messages, then blocks until ctx is done.
type mockKafkaReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *mockKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.committed = append(m.committed, msg.Offset)
	}
	return nil
}

func (m *mockKafkaReader) Close() error {
	m.closed = true
	return nil
}

func (m *mockKafkaReader) Stats() kafka.ReaderStats { return kafka.ReaderStats{} }

func (m *mockKafkaReader) commits() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.committed...)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*common.ProducerMessage
	err  error
}

func (r *recordingPublisher) Publish(_ context.Context, msg *common.ProducerMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) published() []*common.ProducerMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*common.ProducerMessage(nil), r.msgs...)
}

func testConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "citeresolve-worker",
		Topics:  []string{"citeresolve.citation.raw"},
		RetryConfig: RetryConfig{
			MaxRetries:      2,
			RetryBackoff:    time.Millisecond,
			DeadLetterTopic: "citeresolve.dead_letter.citation",
		},
	}
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestValidateConsumerConfig(t *testing.T) {
	assert.NoError(t, ValidateConsumerConfig(testConsumerConfig()))

	for name, mutate := range map[string]func(*ConsumerConfig){
		"no brokers":    func(c *ConsumerConfig) { c.Brokers = nil },
		"no group":      func(c *ConsumerConfig) { c.GroupID = "" },
		"no topics":     func(c *ConsumerConfig) { c.Topics = nil },
		"bad offset":    func(c *ConsumerConfig) { c.AutoOffsetReset = "middle" },
		"neg retries":   func(c *ConsumerConfig) { c.RetryConfig.MaxRetries = -1 },
		"sasl no creds": func(c *ConsumerConfig) { c.Security.SASLEnabled = true },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConsumerConfig()
			mutate(&cfg)
			assert.True(t, errors.IsValidation(ValidateConsumerConfig(cfg)))
		})
	}
}

func TestConsumer_DispatchesAndCommits(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{
		{Topic: "citeresolve.citation.raw", Offset: 7, Value: []byte(`{"title":"a"}`),
			Headers: []kafka.Header{{Key: "trace", Value: []byte("t1")}}},
		{Topic: "unknown.topic", Offset: 8, Value: []byte("x")},
	}}
	c := newConsumer(reader, nil, testConsumerConfig(), testutil.NewNopLogger())
	c.sleep = noSleep

	handled := make(chan *common.Message, 1)
	c.Subscribe("citeresolve.citation.raw", func(_ context.Context, msg *common.Message) error {
		handled <- msg
		return nil
	})

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)

	select {
	case msg := <-handled:
		assert.Equal(t, int64(7), msg.Offset)
		assert.Equal(t, "t1", msg.Headers["trace"])
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	assert.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
	assert.Equal(t, []int64{7, 8}, reader.commits())
	assert.Equal(t, int64(1), c.Processed())
}

func TestProcessMessage_RetrySucceeds(t *testing.T) {
	c := newConsumer(&mockKafkaReader{}, nil, testConsumerConfig(), nil)
	c.sleep = noSleep

	var calls int32
	err := c.processMessage(context.Background(), &common.Message{}, func(context.Context, *common.Message) error {
		if atomic.AddInt32(&calls, 1) < 2 {
			return stderrors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, int32(2), calls)
	assert.Equal(t, int64(1), c.metrics.MessagesRetried.Load())
	assert.Equal(t, int64(1), c.Processed())
}

func TestProcessMessage_DeadLettersAfterRetries(t *testing.T) {
	dl := &recordingPublisher{}
	log := testutil.NewMockLogger()
	c := newConsumer(&mockKafkaReader{}, dl, testConsumerConfig(), log)
	c.sleep = noSleep

	var calls int32
	msg := &common.Message{Topic: "citeresolve.citation.raw", Key: []byte("k"), Value: []byte("v"),
		Headers: map[string]string{"trace": "t1"}}
	err := c.processMessage(context.Background(), msg, func(context.Context, *common.Message) error {
		atomic.AddInt32(&calls, 1)
		return stderrors.New("bad payload")
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)

	out := dl.published()
	require.Len(t, out, 1)
	assert.Equal(t, "citeresolve.dead_letter.citation", out[0].Topic)
	assert.Equal(t, "citeresolve.citation.raw", out[0].Headers[HeaderOriginalTopic])
	assert.Equal(t, "bad payload", out[0].Headers[HeaderError])
	assert.Equal(t, "t1", out[0].Headers["trace"])
	_, mutated := msg.Headers[HeaderError]
	assert.False(t, mutated)
	assert.Equal(t, int64(1), c.DeadLettered())
	assert.True(t, log.HasMessage("error", "message processing failed after retries"))
}

func TestProcessMessage_DeadLetterFailureIsLogged(t *testing.T) {
	dl := &recordingPublisher{err: stderrors.New("dlq down")}
	log := testutil.NewMockLogger()
	cfg := testConsumerConfig()
	cfg.RetryConfig.MaxRetries = 0
	c := newConsumer(&mockKafkaReader{}, dl, cfg, log)

	err := c.processMessage(context.Background(), &common.Message{Headers: map[string]string{}},
		func(context.Context, *common.Message) error { return stderrors.New("fail") })
	assert.NoError(t, err)
	assert.True(t, log.HasMessage("error", "dead letter publish failed"))
	assert.Zero(t, c.DeadLettered())
}

func TestProcessMessage_CancelledDuringBackoff(t *testing.T) {
	c := newConsumer(&mockKafkaReader{}, nil, testConsumerConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.processMessage(ctx, &common.Message{}, func(context.Context, *common.Message) error {
		return stderrors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
