package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/config"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/events"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/models"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/otp"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/util"
)

// Parameter keys shared with the identity provider.
const (
	ParamPhoneNumber = "phoneNumber"
	ParamCode        = "code"
	ParamError       = "error"
)

const releaseTimeout = 500 * time.Millisecond

// CodeGenerator is implemented by otp.Generator.
type CodeGenerator interface {
	Generate() (string, error)
}

// SendLimiter caps real SMS sends per phone across sessions. Implemented by
// the Redis sliding-window limiter. Release gives back a reserved send that
// was never delivered.
type SendLimiter interface {
	Reserve(ctx context.Context, key string) (token string, allowed bool, err error)
	Release(ctx context.Context, key, token string) error
}

// ChallengeRequest is one challenge-creation call.
type ChallengeRequest struct {
	Session     models.AuthSession
	PhoneNumber string
	UserName    string
}

// Challenge is the response for one round. It is always well formed; when
// issuing failed, Err holds the cause and the fields carry the fallback.
type Challenge struct {
	PublicParams  map[string]string
	PrivateParams map[string]string
	Metadata      string
	Reused        bool
	Err           error
}

type ChallengeIssuer struct {
	generator CodeGenerator
	notifier  otp.Notifier
	limiter   SendLimiter
	hasher    events.PhoneHasher
	recorder  *events.Recorder
	cfg       config.AuthConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewChallengeIssuer wires an issuer. limiter and recorder may be nil.
func NewChallengeIssuer(
	generator CodeGenerator,
	notifier otp.Notifier,
	limiter SendLimiter,
	hasher events.PhoneHasher,
	recorder *events.Recorder,
	cfg config.AuthConfig,
	logger *zap.Logger,
) *ChallengeIssuer {
	return &ChallengeIssuer{
		generator: generator,
		notifier:  notifier,
		limiter:   limiter,
		hasher:    hasher,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Issue produces the next round. It never fails: errors are folded into a
// fallback challenge whose private code can never be answered.
func (s *ChallengeIssuer) Issue(ctx context.Context, req ChallengeRequest) (challenge *Challenge) {
	now := s.now().UTC()

	defer func() {
		if r := recover(); r != nil {
			challenge = s.fallback(ctx, req, now, fmt.Errorf("panic while issuing challenge: %v", r))
		}
	}()

	challenge, err := s.issue(ctx, req, now)
	if err != nil {
		return s.fallback(ctx, req, now, err)
	}
	return challenge
}

func (s *ChallengeIssuer) issue(ctx context.Context, req ChallengeRequest, now time.Time) (*Challenge, error) {
	if !util.IsE164(req.PhoneNumber) {
		return nil, fmt.Errorf("%w: phone attribute is not E.164", otp.ErrInvalidPhoneNumber)
	}

	if sent := s.roundsInWindow(req.Session, now); sent >= s.cfg.MaxSendsPerWindow {
		return nil, fmt.Errorf("%w: %d rounds in the last %s", ErrRateLimited, sent, s.cfg.RateLimitWindow)
	}

	attempt := 1
	if last, ok := req.Session.Last(); ok {
		prev, err := models.ParseChallengeMetadata(last.Metadata)
		if err == nil {
			if s.reusable(prev, req.PhoneNumber, now) {
				s.logger.Info("Reusing unexpired challenge code",
					util.String("user_name", req.UserName),
					util.String("phone_hash", s.hasher.HashPhone(req.PhoneNumber)),
					util.Int("attempt", prev.AttemptNumber))
				s.recorder.Record(ctx, events.Record{
					Type:        events.ChallengeReused,
					UserName:    req.UserName,
					PhoneNumber: req.PhoneNumber,
					Attempt:     prev.AttemptNumber,
				})
				return s.challengeFor(req.PhoneNumber, prev.Code, last.Metadata, true), nil
			}
			attempt = prev.AttemptNumber + 1
		} else {
			attempt = req.Session.Len() + 1
		}
	}

	code, err := s.generator.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	token, err := s.reserveSend(ctx, req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	if _, err := s.notifier.SendCode(ctx, req.PhoneNumber, code); err != nil {
		s.releaseSend(ctx, req.PhoneNumber, token)
		return nil, err
	}

	meta := &models.ChallengeMetadata{
		Kind:          models.MetadataKindOTP,
		Code:          code,
		IssuedAt:      now,
		PhoneNumber:   req.PhoneNumber,
		AttemptNumber: attempt,
	}

	s.logger.Info("Challenge code sent",
		util.String("user_name", req.UserName),
		util.String("phone_hash", s.hasher.HashPhone(req.PhoneNumber)),
		util.Int("attempt", attempt))
	s.recorder.Record(ctx, events.Record{
		Type:        events.ChallengeSent,
		UserName:    req.UserName,
		PhoneNumber: req.PhoneNumber,
		Attempt:     attempt,
	})

	return s.challengeFor(req.PhoneNumber, code, meta.Encode(), false), nil
}

// reusable reports whether prev can be presented again. A code issued for a
// different number is never reused.
func (s *ChallengeIssuer) reusable(prev *models.ChallengeMetadata, phoneNumber string, now time.Time) bool {
	if prev.PhoneNumber != "" && prev.PhoneNumber != phoneNumber {
		return false
	}
	return now.Sub(prev.IssuedAt) < s.cfg.ExpiryWindow
}

// roundsInWindow counts prior rounds issued inside the rate window. Rounds
// with unreadable timestamps are counted.
func (s *ChallengeIssuer) roundsInWindow(session models.AuthSession, now time.Time) int {
	count := 0
	for _, round := range session.Rounds {
		if models.IssuedWithin(round.Metadata, now, s.cfg.RateLimitWindow) {
			count++
		}
	}
	return count
}

// reserveSend takes a slot from the cross-session limiter. An unavailable
// limiter lets the send through with no token.
func (s *ChallengeIssuer) reserveSend(ctx context.Context, phoneNumber string) (string, error) {
	if s.limiter == nil {
		return "", nil
	}
	token, allowed, err := s.limiter.Reserve(ctx, s.hasher.HashPhone(phoneNumber))
	if err != nil {
		s.logger.Warn("Send limiter unavailable, allowing send", util.ErrorField(err))
		return "", nil
	}
	if !allowed {
		return "", fmt.Errorf("%w: phone send limit reached", ErrRateLimited)
	}
	return token, nil
}

// releaseSend returns the slot of an undelivered message. It runs on its own
// short deadline since ctx may already be spent by the failed send.
func (s *ChallengeIssuer) releaseSend(ctx context.Context, phoneNumber, token string) {
	if s.limiter == nil || token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.limiter.Release(ctx, s.hasher.HashPhone(phoneNumber), token); err != nil {
		s.logger.Warn("Failed to release send limit slot", util.ErrorField(err))
	}
}

func (s *ChallengeIssuer) challengeFor(phoneNumber, code, encoded string, reused bool) *Challenge {
	return &Challenge{
		PublicParams:  map[string]string{ParamPhoneNumber: phoneNumber},
		PrivateParams: map[string]string{ParamCode: code},
		Metadata:      encoded,
		Reused:        reused,
	}
}

func (s *ChallengeIssuer) fallback(ctx context.Context, req ChallengeRequest, now time.Time, err error) *Challenge {
	eventType := events.ChallengeFailed
	if isRateLimited(err) {
		eventType = events.RateLimited
		s.logger.Warn("Challenge rate limited",
			util.String("user_name", req.UserName),
			util.ErrorField(err))
	} else {
		s.logger.Error("Failed to issue challenge",
			util.String("user_name", req.UserName),
			util.ErrorField(err))
	}
	s.recorder.Record(ctx, events.Record{
		Type:        eventType,
		UserName:    req.UserName,
		PhoneNumber: req.PhoneNumber,
		Detail:      err.Error(),
	})

	meta := models.ChallengeMetadata{
		Kind:     models.MetadataKindError,
		IssuedAt: now,
		Error:    err.Error(),
	}
	return &Challenge{
		PublicParams:  map[string]string{ParamError: PublicMessage(err)},
		PrivateParams: map[string]string{ParamCode: FallbackCode},
		Metadata:      meta.Encode(),
		Err:           err,
	}
}
