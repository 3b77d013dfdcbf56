package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/config"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/encryption"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/hashing"
)

type capturePublisher struct {
	events []*AuthEvent
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, e *AuthEvent) error {
	p.events = append(p.events, e)
	return p.err
}

type captureProducer struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

func (p *captureProducer) ProduceMessage(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	p.topic, p.key, p.value, p.headers = topic, key, value, headers
	return nil
}

func TestRecorder_HashesAndEncryptsPhone(t *testing.T) {
	pub := &capturePublisher{}
	hasher := hashing.NewHasherWithPepper("pepper")
	em := encryption.NewEncryptionManager(&config.Config{}, nil)
	r := NewRecorder(pub, hasher, em, zap.NewNop())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.Record(context.Background(), Record{Type: ChallengeSent, UserName: "u1", PhoneNumber: "+15551234567", Attempt: 1})

	require.Len(t, pub.events, 1)
	e := pub.events[0]
	assert.Equal(t, ChallengeSent, e.Type)
	assert.Equal(t, hasher.HashPhone("+15551234567"), e.PhoneHash)
	require.NotNil(t, e.PhoneEncrypted)
	assert.Equal(t, fixed, e.OccurredAt)

	plain, err := em.DecryptField(context.Background(), e.PhoneEncrypted)
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", plain)
}

func TestRecorder_PublishErrorIsSwallowed(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	r := NewRecorder(pub, nil, nil, zap.NewNop())

	assert.NotPanics(t, func() {
		r.Record(context.Background(), Record{Type: AnswerRejected, UserName: "u1"})
	})
	require.Len(t, pub.events, 1)
	assert.Empty(t, pub.events[0].PhoneHash)
	assert.Nil(t, pub.events[0].PhoneEncrypted)
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() { r.Record(context.Background(), Record{Type: RateLimited}) })
}

func TestKafkaPublisher(t *testing.T) {
	producer := &captureProducer{}
	p := NewKafkaPublisher(producer, "auth-events")

	err := p.Publish(context.Background(), &AuthEvent{Type: AnswerVerified, UserName: "u1", PhoneHash: "abc"})
	require.NoError(t, err)

	assert.Equal(t, "auth-events", producer.topic)
	assert.Equal(t, []byte("abc"), producer.key)
	assert.Equal(t, AnswerVerified, producer.headers["event_type"])

	var decoded AuthEvent
	require.NoError(t, json.Unmarshal(producer.value, &decoded))
	assert.Equal(t, "u1", decoded.UserName)

	require.NoError(t, p.Publish(context.Background(), &AuthEvent{Type: AnswerVerified, UserName: "u2"}))
	assert.Equal(t, []byte("u2"), producer.key)
}

// blockingPublisher holds every Publish until its context ends or release is closed.
type blockingPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	started int
}

func (p *blockingPublisher) Publish(ctx context.Context, _ *AuthEvent) error {
	p.mu.Lock()
	p.started++
	p.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.release:
		return nil
	}
}

type syncPublisher struct {
	mu     sync.Mutex
	events []*AuthEvent
}

func (p *syncPublisher) Publish(_ context.Context, e *AuthEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func TestAsyncRecorder_RecordDoesNotWaitForPublisher(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	r := NewAsyncRecorder(pub, nil, nil, 8, zap.NewNop())

	start := time.Now()
	for i := 0; i < 5; i++ {
		r.Record(context.Background(), Record{Type: AnswerVerified, UserName: "u1"})
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(pub.release)
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 5, pub.started)
}

func TestAsyncRecorder_CloseDrainsQueue(t *testing.T) {
	pub := &syncPublisher{}
	hasher := hashing.NewHasherWithPepper("pepper")
	r := NewAsyncRecorder(pub, hasher, nil, 0, zap.NewNop())

	r.Record(context.Background(), Record{Type: ChallengeSent, PhoneNumber: "+15551234567"})
	r.Record(context.Background(), Record{Type: AnswerVerified})
	require.NoError(t, r.Close(context.Background()))

	require.Len(t, pub.events, 2)
	assert.Equal(t, hasher.HashPhone("+15551234567"), pub.events[0].PhoneHash)
	assert.Equal(t, AnswerVerified, pub.events[1].Type)

	// Late events are dropped, and a second Close is harmless.
	assert.NotPanics(t, func() { r.Record(context.Background(), Record{Type: RateLimited}) })
	require.NoError(t, r.Close(context.Background()))
	assert.Len(t, pub.events, 2)
}

func TestAsyncRecorder_FullQueueDrops(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	r := NewAsyncRecorder(pub, nil, nil, 1, zap.NewNop())

	for i := 0; i < 10; i++ {
		r.Record(context.Background(), Record{Type: AnswerRejected})
	}
	close(pub.release)
	require.NoError(t, r.Close(context.Background()))

	// One event in flight plus one queued at most.
	assert.LessOrEqual(t, pub.started, 2)
	assert.GreaterOrEqual(t, pub.started, 1)
}

func TestAsyncRecorder_CloseHonoursDeadline(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	defer close(pub.release)
	r := NewAsyncRecorder(pub, nil, nil, 4, zap.NewNop())
	r.Record(context.Background(), Record{Type: AnswerVerified})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)
}

type explodingPublisher struct{ calls chan struct{} }

func (p explodingPublisher) Publish(context.Context, *AuthEvent) error {
	p.calls <- struct{}{}
	panic("publisher exploded")
}

func TestAsyncRecorder_WorkerSurvivesPanic(t *testing.T) {
	pub := explodingPublisher{calls: make(chan struct{}, 2)}
	r := NewAsyncRecorder(pub, nil, nil, 4, zap.NewNop())

	r.Record(context.Background(), Record{Type: AnswerVerified})
	r.Record(context.Background(), Record{Type: AnswerRejected})
	require.NoError(t, r.Close(context.Background()))
	assert.Len(t, pub.calls, 2)
}

func TestInlineRecorder_CloseIsNoop(t *testing.T) {
	r := NewRecorder(&capturePublisher{}, nil, nil, zap.NewNop())
	assert.NoError(t, r.Close(context.Background()))
	var nilRecorder *Recorder
	assert.NoError(t, nilRecorder.Close(context.Background()))
}
