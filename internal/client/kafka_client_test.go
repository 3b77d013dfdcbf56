package client

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/config"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestProduceMessage(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaProducerWithWriter(w, []string{"b1:9092"}, zap.NewNop())

	err := p.ProduceMessage(context.Background(), "auth-events", []byte("k"), []byte(`{}`), map[string]string{"event_type": "challenge_sent"})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "auth-events", w.msgs[0].Topic)
	assert.Equal(t, []byte("k"), w.msgs[0].Key)
	require.Len(t, w.msgs[0].Headers, 1)
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, []byte("challenge_sent"), w.msgs[0].Headers[0].Value)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProduceMessage_WriterError(t *testing.T) {
	p := NewKafkaProducerWithWriter(&fakeWriter{err: errors.New("leader not available")}, nil, zap.NewNop())
	err := p.ProduceMessage(context.Background(), "auth-events", nil, nil, nil)
	assert.Error(t, err)
}

func TestNewKafkaProducer_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaProducer(&config.Config{}, zap.NewNop())
	assert.Error(t, err)
}

func TestHealthCheck_NoBrokers(t *testing.T) {
	p := NewKafkaProducerWithWriter(&fakeWriter{}, nil, zap.NewNop())
	assert.Error(t, p.HealthCheck(context.Background()))
}
