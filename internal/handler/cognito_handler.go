package handler

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/models"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/service"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/util"
)

// User attributes read from the identity provider.
const (
	attrPhoneNumber = "phone_number"
	attrSub         = "sub"
)

type ChallengeIssuer interface {
	Issue(ctx context.Context, req service.ChallengeRequest) *service.Challenge
}

type SessionArbiter interface {
	Decide(ctx context.Context, session models.AuthSession, userName string) service.Decision
}

type AnswerVerifier interface {
	Verify(ctx context.Context, req service.VerifyRequest) bool
}

// CognitoHandler adapts the custom-auth trigger events to the auth services.
// None of its methods return an error or let a panic escape. Each invocation
// runs under timeout when it is positive.
type CognitoHandler struct {
	issuer   ChallengeIssuer
	arbiter  SessionArbiter
	verifier AnswerVerifier
	timeout  time.Duration
	logger   *zap.Logger
}

func NewCognitoHandler(issuer ChallengeIssuer, arbiter SessionArbiter, verifier AnswerVerifier, timeout time.Duration, logger *zap.Logger) *CognitoHandler {
	return &CognitoHandler{
		issuer:   issuer,
		arbiter:  arbiter,
		verifier: verifier,
		timeout:  timeout,
		logger:   logger,
	}
}

func (h *CognitoHandler) withBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.timeout)
}

func toSession(results []*events.CognitoEventUserPoolsChallengeResult) models.AuthSession {
	session := models.AuthSession{Rounds: make([]models.ChallengeRound, 0, len(results))}
	for _, r := range results {
		if r == nil {
			// An empty round fails the arbiter and counts against the rate limit.
			session.Rounds = append(session.Rounds, models.ChallengeRound{})
			continue
		}
		session.Rounds = append(session.Rounds, models.ChallengeRound{
			ChallengeName: r.ChallengeName,
			Result:        models.ResultFromBool(r.ChallengeResult),
			Metadata:      r.ChallengeMetadata,
		})
	}
	return session
}

func (h *CognitoHandler) triggerFields(header events.CognitoEventUserPoolsHeader) []zap.Field {
	return []zap.Field{
		util.String("trigger_source", header.TriggerSource),
		util.String("user_pool_id", header.UserPoolID),
		util.String("user_name", header.UserName),
	}
}

// CreateAuthChallenge issues the next code, or a fallback the caller cannot answer.
func (h *CognitoHandler) CreateAuthChallenge(ctx context.Context, event events.CognitoEventUserPoolsCreateAuthChallenge) (out events.CognitoEventUserPoolsCreateAuthChallenge, err error) {
	out = event
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic in create auth challenge", append(h.triggerFields(event.CognitoEventUserPoolsHeader), util.Any("panic", r))...)
			out.Response = events.CognitoEventUserPoolsCreateAuthChallengeResponse{
				PublicChallengeParameters:  map[string]string{service.ParamError: service.MessageSendFailed},
				PrivateChallengeParameters: map[string]string{service.ParamCode: service.FallbackCode},
			}
			err = nil
		}
	}()

	ctx, cancel := h.withBudget(ctx)
	defer cancel()

	challenge := h.issuer.Issue(ctx, service.ChallengeRequest{
		Session:     toSession(event.Request.Session),
		PhoneNumber: event.Request.UserAttributes[attrPhoneNumber],
		UserName:    event.UserName,
	})

	out.Response = events.CognitoEventUserPoolsCreateAuthChallengeResponse{
		PublicChallengeParameters:  challenge.PublicParams,
		PrivateChallengeParameters: challenge.PrivateParams,
		ChallengeMetadata:          challenge.Metadata,
	}

	fields := append(h.triggerFields(event.CognitoEventUserPoolsHeader),
		util.Int("rounds", len(event.Request.Session)),
		util.Bool("reused", challenge.Reused))
	if challenge.Err != nil {
		h.logger.Warn("Create auth challenge returned fallback", append(fields, util.ErrorField(challenge.Err))...)
	} else {
		h.logger.Info("Create auth challenge completed", fields...)
	}
	return out, nil
}

// DefineAuthChallenge copies the arbiter's decision into the response.
func (h *CognitoHandler) DefineAuthChallenge(ctx context.Context, event events.CognitoEventUserPoolsDefineAuthChallenge) (out events.CognitoEventUserPoolsDefineAuthChallenge, err error) {
	out = event
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic in define auth challenge", append(h.triggerFields(event.CognitoEventUserPoolsHeader), util.Any("panic", r))...)
			out.Response = events.CognitoEventUserPoolsDefineAuthChallengeResponse{FailAuthentication: true}
			err = nil
		}
	}()

	ctx, cancel := h.withBudget(ctx)
	defer cancel()

	decision := h.arbiter.Decide(ctx, toSession(event.Request.Session), event.UserName)

	out.Response = events.CognitoEventUserPoolsDefineAuthChallengeResponse{
		ChallengeName:      decision.ChallengeName,
		IssueTokens:        decision.IssueTokens,
		FailAuthentication: decision.FailAuthentication,
	}

	h.logger.Info("Define auth challenge completed", append(h.triggerFields(event.CognitoEventUserPoolsHeader),
		util.Int("rounds", len(event.Request.Session)),
		util.String("state", decision.State.String()))...)
	return out, nil
}

// VerifyAuthChallenge checks the answer against the private code. The user id
// passed on for provisioning is the stable sub, falling back to the user name.
func (h *CognitoHandler) VerifyAuthChallenge(ctx context.Context, event events.CognitoEventUserPoolsVerifyAuthChallenge) (out events.CognitoEventUserPoolsVerifyAuthChallenge, err error) {
	out = event
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic in verify auth challenge", append(h.triggerFields(event.CognitoEventUserPoolsHeader), util.Any("panic", r))...)
			out.Response = events.CognitoEventUserPoolsVerifyAuthChallengeResponse{AnswerCorrect: false}
			err = nil
		}
	}()

	userID := event.Request.UserAttributes[attrSub]
	if userID == "" {
		userID = event.UserName
	}

	ctx, cancel := h.withBudget(ctx)
	defer cancel()

	correct := h.verifier.Verify(ctx, service.VerifyRequest{
		ExpectedCode: event.Request.PrivateChallengeParameters[service.ParamCode],
		Answer:       answerString(event.Request.ChallengeAnswer),
		UserID:       userID,
		UserName:     event.UserName,
	})

	out.Response = events.CognitoEventUserPoolsVerifyAuthChallengeResponse{AnswerCorrect: correct}

	h.logger.Info("Verify auth challenge completed", append(h.triggerFields(event.CognitoEventUserPoolsHeader),
		util.Bool("answer_correct", correct))...)
	return out, nil
}

// answerString accepts only string answers; anything else is empty and so
// never correct.
func answerString(answer interface{}) string {
	if s, ok := answer.(string); ok {
		return s
	}
	return ""
}
