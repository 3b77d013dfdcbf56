package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/events"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/models"
)

func TestAnswersMatch(t *testing.T) {
	tests := []struct {
		expected string
		answer   string
		want     bool
	}{
		{"123456", "123456", true},
		{"123456", " 123456 ", true},
		{" 123456\n", "123456", true},
		{"123456", "123457", false},
		{"123456", "", false},
		{"123456", "   ", false},
		{"", "", false},
		{"123456", "12345", false},
		{FallbackCode, FallbackCode, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AnswersMatch(tt.expected, tt.answer), "%q vs %q", tt.expected, tt.answer)
	}
}

type fakeEnsurer struct {
	calls []string
	err   error
	panic bool
	ctx   context.Context
}

func (e *fakeEnsurer) EnsureProfile(ctx context.Context, userID string) error {
	e.calls = append(e.calls, userID)
	e.ctx = ctx
	if e.panic {
		panic("boom")
	}
	return e.err
}

func newVerifier(ensurer ProfileEnsurer) (*AnswerVerifier, *capturePublisher) {
	pub := &capturePublisher{}
	return NewAnswerVerifier(ensurer, events.NewRecorder(pub, nil, nil, zap.NewNop()), time.Second, zap.NewNop()), pub
}

func TestVerify_CorrectAnswerProvisions(t *testing.T) {
	ensurer := &fakeEnsurer{}
	v, pub := newVerifier(ensurer)

	ok := v.Verify(context.Background(), VerifyRequest{ExpectedCode: "123456", Answer: "123456 ", UserID: "sub-1", UserName: "user-1"})

	assert.True(t, ok)
	assert.Equal(t, []string{"sub-1"}, ensurer.calls)
	_, hasDeadline := ensurer.ctx.Deadline()
	assert.True(t, hasDeadline, "provisioning runs under a timeout")
	assert.Equal(t, []string{events.AnswerVerified}, pub.types())
}

func TestVerify_WrongAnswerDoesNotProvision(t *testing.T) {
	ensurer := &fakeEnsurer{}
	v, pub := newVerifier(ensurer)

	ok := v.Verify(context.Background(), VerifyRequest{ExpectedCode: "123456", Answer: "654321", UserID: "sub-1"})

	assert.False(t, ok)
	assert.Empty(t, ensurer.calls)
	assert.Equal(t, []string{events.AnswerRejected}, pub.types())
}

func TestVerify_ProvisioningFailureKeepsAnswerCorrect(t *testing.T) {
	tests := []struct {
		name    string
		ensurer *fakeEnsurer
		userID  string
	}{
		{name: "store error", ensurer: &fakeEnsurer{err: errors.New("dynamo down")}, userID: "sub-1"},
		{name: "panic", ensurer: &fakeEnsurer{panic: true}, userID: "sub-1"},
		{name: "no user id", ensurer: &fakeEnsurer{}, userID: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, pub := newVerifier(tt.ensurer)

			var ok bool
			require.NotPanics(t, func() {
				ok = v.Verify(context.Background(), VerifyRequest{ExpectedCode: "123456", Answer: "123456", UserID: tt.userID})
			})
			assert.True(t, ok)
			assert.Equal(t, []string{events.AnswerVerified, events.ProvisioningFailed}, pub.types())
		})
	}
}

func TestVerify_FallbackSentinelIsNeverAccepted(t *testing.T) {
	ensurer := &fakeEnsurer{}
	v, _ := newVerifier(ensurer)

	assert.False(t, v.Verify(context.Background(), VerifyRequest{ExpectedCode: FallbackCode, Answer: FallbackCode, UserID: "sub-1"}))
	assert.Empty(t, ensurer.calls)
}

// stalledPublisher blocks every publish until its context ends.
type stalledPublisher struct{}

func (stalledPublisher) Publish(ctx context.Context, _ *events.AuthEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

// stalledRepo blocks every call until its context ends.
type stalledRepo struct{}

func (stalledRepo) GetProfile(ctx context.Context, _ string) (*models.UserProfile, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledRepo) CreateProfile(ctx context.Context, _ *models.UserProfile) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestVerify_ReturnsWithinBudgetWhenDependenciesStall(t *testing.T) {
	recorder := events.NewAsyncRecorder(stalledPublisher{}, nil, nil, 16, zap.NewNop())
	provisioner := NewProfileProvisioner(stalledRepo{}, recorder, zap.NewNop())
	v := NewAnswerVerifier(provisioner, recorder, 100*time.Millisecond, zap.NewNop())

	start := time.Now()
	correct := v.Verify(context.Background(), VerifyRequest{
		ExpectedCode: "123456",
		Answer:       "123456",
		UserID:       "user-1",
		UserName:     "user-1",
	})
	elapsed := time.Since(start)

	assert.True(t, correct)
	assert.Less(t, elapsed, 500*time.Millisecond)
}
