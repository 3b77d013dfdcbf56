package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/config"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/events"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/hashing"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/models"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/otp"
)

const testPhone = "+15551234567"

var testNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// sequenceGenerator hands out 100001, 100002, ...
type sequenceGenerator struct {
	mu   sync.Mutex
	next int
	err  error
}

func (g *sequenceGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.next++
	return fmt.Sprintf("%06d", 100000+g.next), nil
}

type sentSMS struct {
	phone string
	code  string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentSMS
	err  error
}

func (n *fakeNotifier) SendCode(_ context.Context, phone, code string) (*otp.Delivery, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return nil, fmt.Errorf("%w: %v", otp.ErrDelivery, n.err)
	}
	n.sent = append(n.sent, sentSMS{phone: phone, code: code})
	return &otp.Delivery{MessageID: fmt.Sprintf("msg-%d", len(n.sent))}, nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakeLimiter struct {
	allow    bool
	err      error
	keys     []string
	released []string
}

func (l *fakeLimiter) Reserve(_ context.Context, key string) (string, bool, error) {
	l.keys = append(l.keys, key)
	if l.err != nil || !l.allow {
		return "", false, l.err
	}
	return fmt.Sprintf("token-%d", len(l.keys)), true, nil
}

func (l *fakeLimiter) Release(ctx context.Context, _ string, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.released = append(l.released, token)
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []*events.AuthEvent
}

func (p *capturePublisher) Publish(_ context.Context, e *events.AuthEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var errStore = errors.New("store unavailable")

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		CodeLength:        6,
		ExpiryWindow:      5 * time.Minute,
		MaxRounds:         3,
		MaxSendsPerWindow: 5,
		RateLimitWindow:   time.Hour,
	}
}

type issuerFixture struct {
	issuer    *ChallengeIssuer
	generator *sequenceGenerator
	notifier  *fakeNotifier
	events    *capturePublisher
	clock     *time.Time
}

func newIssuerFixture(limiter SendLimiter) *issuerFixture {
	f := &issuerFixture{
		generator: &sequenceGenerator{},
		notifier:  &fakeNotifier{},
		events:    &capturePublisher{},
	}
	clock := testNow
	f.clock = &clock

	hasher := hashing.NewHasherWithPepper("test-pepper")
	recorder := events.NewRecorder(f.events, hasher, nil, zap.NewNop())
	f.issuer = NewChallengeIssuer(f.generator, f.notifier, limiter, hasher, recorder, testAuthConfig(), zap.NewNop())
	f.issuer.now = func() time.Time { return *f.clock }
	return f
}

// round builds a session round from a challenge response.
func round(c *Challenge, correct bool) models.ChallengeRound {
	return models.ChallengeRound{
		ChallengeName: models.CustomChallenge,
		Result:        models.ResultFromBool(correct),
		Metadata:      c.Metadata,
	}
}

func otpRound(code string, issuedAt time.Time, attempt int) models.ChallengeRound {
	meta := models.ChallengeMetadata{
		Kind:          models.MetadataKindOTP,
		Code:          code,
		IssuedAt:      issuedAt,
		PhoneNumber:   testPhone,
		AttemptNumber: attempt,
	}
	return models.ChallengeRound{
		ChallengeName: models.CustomChallenge,
		Result:        models.ResultFalse,
		Metadata:      meta.Encode(),
	}
}
