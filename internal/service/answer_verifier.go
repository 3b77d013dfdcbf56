package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/events"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/util"
)

// ProfileEnsurer is implemented by ProfileProvisioner.
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, userID string) error
}

// VerifyRequest is one challenge-verification call.
type VerifyRequest struct {
	ExpectedCode string
	Answer       string
	UserID       string
	UserName     string
}

type AnswerVerifier struct {
	provisioner ProfileEnsurer
	recorder    *events.Recorder
	timeout     time.Duration
	logger      *zap.Logger
}

func NewAnswerVerifier(provisioner ProfileEnsurer, recorder *events.Recorder, timeout time.Duration, logger *zap.Logger) *AnswerVerifier {
	return &AnswerVerifier{
		provisioner: provisioner,
		recorder:    recorder,
		timeout:     timeout,
		logger:      logger,
	}
}

// AnswersMatch reports whether answer equals expected after trimming both.
// Empty values and the fallback sentinel never match.
func AnswersMatch(expected, answer string) bool {
	expected = strings.TrimSpace(expected)
	answer = strings.TrimSpace(answer)
	if expected == "" || answer == "" || expected == FallbackCode {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(answer)) == 1
}

// Verify returns the correctness of the answer. A correct answer provisions
// the user's profile; provisioning failures are logged and do not change
// the result.
func (v *AnswerVerifier) Verify(ctx context.Context, req VerifyRequest) bool {
	if !AnswersMatch(req.ExpectedCode, req.Answer) {
		v.logger.Info("Challenge answer rejected", util.String("user_name", req.UserName))
		v.recorder.Record(ctx, events.Record{Type: events.AnswerRejected, UserName: req.UserName})
		return false
	}

	v.logger.Info("Challenge answer verified", util.String("user_name", req.UserName))
	v.recorder.Record(ctx, events.Record{Type: events.AnswerVerified, UserName: req.UserName})

	if err := v.provision(ctx, req.UserID); err != nil {
		v.logger.Error("Profile provisioning failed after successful verification",
			util.String("user_id", req.UserID),
			util.ErrorField(err))
		v.recorder.Record(ctx, events.Record{
			Type:     events.ProvisioningFailed,
			UserName: req.UserName,
			Detail:   err.Error(),
		})
	}
	return true
}

func (v *AnswerVerifier) provision(ctx context.Context, userID string) (err error) {
	if v.provisioner == nil {
		return nil
	}
	if userID == "" {
		return fmt.Errorf("%w: no user id", ErrProvisioning)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrProvisioning, r)
		}
	}()

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	return v.provisioner.EnsureProfile(ctx, userID)
}
