package service

import "errors"

var (
	ErrRateLimited      = errors.New("too many challenges issued")
	ErrProvisioning     = errors.New("profile provisioning failed")
	ErrSessionExhausted = errors.New("challenge rounds exhausted")
	ErrUnexpectedRound  = errors.New("unexpected challenge round")
)

// FallbackCode is placed in the private parameters when no code could be
// issued. It is not numeric, so no generated code equals it, and the verifier
// refuses it outright.
const FallbackCode = "__CHALLENGE_UNAVAILABLE__"

// Messages shown to the unauthenticated caller.
const (
	MessageSendFailed    = "failed to send code"
	MessageTooManyTrials = "too many attempts, try later"
)

// PublicMessage maps an issuing failure to the message the caller may see.
// Validation and gateway details stay server side.
func PublicMessage(err error) string {
	if isRateLimited(err) {
		return MessageTooManyTrials
	}
	return MessageSendFailed
}

func isRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
