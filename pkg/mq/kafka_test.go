package mq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/investportal/pkg/logger"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader 依次返回队列中的消息，耗尽后阻塞直到 ctx 结束
type fakeReader struct {
	queue     []kafka.Message
	committed []kafka.Message
	commitErr error
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.queue) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if r.commitErr != nil {
		return r.commitErr
	}
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func newTestConsumer(reader *fakeReader, dlqWriter *fakeWriter) *Consumer {
	log := logger.Discard()
	var dlq *DeadLetterQueue
	if dlqWriter != nil {
		dlq = NewDeadLetterQueue(&Producer{writer: dlqWriter, log: log}, "escrow.dlq")
	}
	return &Consumer{reader: reader, dlq: dlq, log: log}
}

// runUntilDrained 在队列耗尽后取消 ctx，返回 Run 的结果
func runUntilDrained(t *testing.T, c *Consumer, reader *fakeReader, handle Handler) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return c.Run(ctx, func(ctx context.Context, msg kafka.Message) error {
		err := handle(ctx, msg)
		if len(reader.queue) == 0 {
			cancel()
		}
		return err
	})
}

func TestProducerPublishSetsHeaders(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, log: logger.Discard()}

	require.NoError(t, p.Publish(context.Background(), "escrow.events", "ESC-1", []byte(`{}`), map[string]string{"event_type": "funds_released"}))
	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "escrow.events", msg.Topic)
	assert.Equal(t, "ESC-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, "funds_released", string(msg.Headers[0].Value))

	w.err = errors.New("broker down")
	assert.ErrorContains(t, p.PublishJSON(context.Background(), "escrow.events", "ESC-1", map[string]int{"n": 1}), "broker down")
}

func TestConsumerCommitsHandledMessages(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		{Topic: "milestone.completed", Key: []byte("m1"), Offset: 1},
		{Topic: "milestone.completed", Key: []byte("m2"), Offset: 2},
	}}
	c := newTestConsumer(reader, &fakeWriter{})

	var seen []string
	err := runUntilDrained(t, c, reader, func(_ context.Context, msg kafka.Message) error {
		seen = append(seen, string(msg.Key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, seen)
	assert.Len(t, reader.committed, 2)
}

func TestConsumerRoutesFailuresToDeadLetterQueue(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		{Topic: "milestone.completed", Key: []byte("m1"), Value: []byte(`not json`), Offset: 7},
	}}
	dlqWriter := &fakeWriter{}
	c := newTestConsumer(reader, dlqWriter)

	err := runUntilDrained(t, c, reader, func(context.Context, kafka.Message) error {
		return errors.New("decode signal: invalid character")
	})
	require.NoError(t, err)

	require.Len(t, dlqWriter.messages, 1)
	dead := dlqWriter.messages[0]
	assert.Equal(t, "escrow.dlq", dead.Topic)
	assert.Equal(t, "m1", string(dead.Key))

	var body map[string]any
	require.NoError(t, json.Unmarshal(dead.Value, &body))
	assert.Equal(t, "milestone.completed", body["original_topic"])
	assert.Equal(t, "not json", body["original_value"])
	assert.EqualValues(t, 7, body["original_offset"])
	assert.Equal(t, "decode signal: invalid character", body["failure_error"])

	require.Len(t, reader.committed, 1, "offset is committed once the message is parked")
	assert.EqualValues(t, 7, reader.committed[0].Offset)
}

func TestConsumerKeepsOffsetWhenDeadLetterFails(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{{Topic: "milestone.completed", Key: []byte("m1"), Offset: 3}}}
	c := newTestConsumer(reader, &fakeWriter{err: errors.New("dlq unavailable")})

	err := c.Run(context.Background(), func(context.Context, kafka.Message) error {
		return errors.New("handler failed")
	})
	assert.ErrorContains(t, err, "dlq unavailable")
	assert.Empty(t, reader.committed)
}

func TestConsumerWithoutDeadLetterQueueStillCommits(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{{Topic: "milestone.completed", Offset: 4}}}
	c := newTestConsumer(reader, nil)

	err := runUntilDrained(t, c, reader, func(context.Context, kafka.Message) error {
		return errors.New("handler failed")
	})
	require.NoError(t, err)
	assert.Len(t, reader.committed, 1)
}

func TestConsumerReturnsCommitError(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{{Offset: 5}}, commitErr: errors.New("rebalance in progress")}
	c := newTestConsumer(reader, nil)

	err := c.Run(context.Background(), func(context.Context, kafka.Message) error { return nil })
	assert.ErrorContains(t, err, "rebalance in progress")
}

func TestConsumerStopsOnCancel(t *testing.T) {
	c := newTestConsumer(&fakeReader{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, c.Run(ctx, func(context.Context, kafka.Message) error { return nil }))
}
