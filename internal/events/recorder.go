package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/encryption"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/util"
)

const (
	publishTimeout   = 2 * time.Second
	defaultQueueSize = 256
)

// PhoneHasher is implemented by hashing.Hasher.
type PhoneHasher interface {
	HashPhone(phoneNumber string) string
}

// FieldEncryptor is implemented by encryption.EncryptionManager.
type FieldEncryptor interface {
	EncryptField(ctx context.Context, plaintext string) (*encryption.EncryptedData, error)
}

// Recorder builds events and publishes them best-effort: a failure is
// logged and never reaches the caller.
type Recorder struct {
	publisher Publisher
	hasher    PhoneHasher
	encryptor FieldEncryptor
	logger    *zap.Logger
	now       func() time.Time

	// queue is nil for an inline recorder.
	queue  chan pending
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

type pending struct {
	event *AuthEvent
	phone string
}

// NewRecorder wires a recorder that publishes inside the Record call.
// encryptor may be nil, in which case events carry the phone hash only.
func NewRecorder(publisher Publisher, hasher PhoneHasher, encryptor FieldEncryptor, logger *zap.Logger) *Recorder {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Recorder{
		publisher: publisher,
		hasher:    hasher,
		encryptor: encryptor,
		logger:    logger,
		now:       time.Now,
	}
}

// NewAsyncRecorder wires a recorder whose Record only enqueues. A single
// worker encrypts and publishes; events are dropped when the queue is full.
// Close drains the queue.
func NewAsyncRecorder(publisher Publisher, hasher PhoneHasher, encryptor FieldEncryptor, queueSize int, logger *zap.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	r := NewRecorder(publisher, hasher, encryptor, logger)
	r.queue = make(chan pending, queueSize)
	r.done = make(chan struct{})
	go r.run()
	return r
}

// Record describes one event. PhoneNumber is hashed (and optionally
// encrypted) before it leaves the process.
type Record struct {
	Type        string
	UserName    string
	PhoneNumber string
	Attempt     int
	Detail      string
}

func (r *Recorder) Record(ctx context.Context, rec Record) {
	if r == nil {
		return
	}

	p := pending{
		event: &AuthEvent{
			Type:       rec.Type,
			UserName:   rec.UserName,
			Attempt:    rec.Attempt,
			Detail:     rec.Detail,
			OccurredAt: r.now().UTC(),
		},
		phone: rec.PhoneNumber,
	}
	if p.phone != "" && r.hasher != nil {
		p.event.PhoneHash = r.hasher.HashPhone(p.phone)
	}

	if r.queue == nil {
		r.deliver(ctx, p)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("Auth event recorded after close, dropping", util.String("event_type", rec.Type))
		return
	}
	select {
	case r.queue <- p:
	default:
		r.logger.Warn("Auth event queue full, dropping event", util.String("event_type", rec.Type))
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for p := range r.queue {
		r.deliverSafely(p)
	}
}

func (r *Recorder) deliverSafely(p pending) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic publishing auth event",
				util.String("event_type", p.event.Type),
				util.Any("panic", rec))
		}
	}()
	r.deliver(context.Background(), p)
}

func (r *Recorder) deliver(ctx context.Context, p pending) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if p.phone != "" && r.encryptor != nil {
		encrypted, err := r.encryptor.EncryptField(ctx, p.phone)
		if err != nil {
			r.logger.Warn("Failed to encrypt phone for auth event",
				util.String("event_type", p.event.Type),
				util.ErrorField(err))
		} else {
			p.event.PhoneEncrypted = encrypted
		}
	}

	if err := r.publisher.Publish(ctx, p.event); err != nil {
		r.logger.Warn("Failed to publish auth event",
			util.String("event_type", p.event.Type),
			util.ErrorField(err))
	}
}

// Close stops accepting events and waits until the queued ones are published
// or ctx ends. It is a no-op for an inline recorder.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil || r.queue == nil {
		return nil
	}

	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
