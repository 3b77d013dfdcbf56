package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/events"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/models"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/util"
)

// SessionState is where a session stands after a decision.
type SessionState int

const (
	StateNoSession SessionState = iota
	StateAwaitingAnswer
	StateTokensIssued
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateAwaitingAnswer:
		return "awaiting_answer"
	case StateTokensIssued:
		return "tokens_issued"
	default:
		return "failed"
	}
}

// Decision is the next provider action. ChallengeName is set only when
// another challenge is presented.
type Decision struct {
	ChallengeName      string
	IssueTokens        bool
	FailAuthentication bool
	State              SessionState
	Err                error
}

func presentChallenge() Decision {
	return Decision{ChallengeName: models.CustomChallenge, State: StateAwaitingAnswer}
}

func issueTokens() Decision {
	return Decision{IssueTokens: true, State: StateTokensIssued}
}

func failAuthentication(err error) Decision {
	return Decision{FailAuthentication: true, State: StateFailed, Err: err}
}

// SessionArbiter decides the next step from the round history alone.
type SessionArbiter struct {
	maxRounds int
	recorder  *events.Recorder
	logger    *zap.Logger
}

func NewSessionArbiter(maxRounds int, recorder *events.Recorder, logger *zap.Logger) *SessionArbiter {
	return &SessionArbiter{
		maxRounds: maxRounds,
		recorder:  recorder,
		logger:    logger,
	}
}

// Decide evaluates the session. Anything it cannot classify fails the
// session, including a panic while deciding.
func (a *SessionArbiter) Decide(ctx context.Context, session models.AuthSession, userName string) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Panic while deciding auth session",
				util.String("user_name", userName),
				util.Any("panic", r))
			d = failAuthentication(fmt.Errorf("%w: %v", ErrUnexpectedRound, r))
		}
	}()

	d = a.decide(session)

	if d.FailAuthentication {
		a.logger.Info("Auth session failed",
			util.String("user_name", userName),
			util.Int("rounds", session.Len()),
			util.ErrorField(d.Err))
		a.recorder.Record(ctx, events.Record{
			Type:     events.SessionExhausted,
			UserName: userName,
			Attempt:  session.Len(),
			Detail:   d.Err.Error(),
		})
	}
	return d
}

func (a *SessionArbiter) decide(session models.AuthSession) Decision {
	last, ok := session.Last()
	if !ok {
		return presentChallenge()
	}

	for i, round := range session.Rounds {
		if round.ChallengeName != models.CustomChallenge {
			return failAuthentication(fmt.Errorf("%w: round %d is %q", ErrUnexpectedRound, i+1, round.ChallengeName))
		}
	}

	switch last.Result {
	case models.ResultTrue:
		return issueTokens()
	case models.ResultFalse:
		if session.Len() >= a.maxRounds {
			return failAuthentication(fmt.Errorf("%w: %d of %d rounds failed", ErrSessionExhausted, session.Len(), a.maxRounds))
		}
		return presentChallenge()
	default:
		return failAuthentication(fmt.Errorf("%w: last round has no result", ErrUnexpectedRound))
	}
}
