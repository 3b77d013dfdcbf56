package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CustomChallenge is the only challenge name this flow issues.
const CustomChallenge = "CUSTOM_CHALLENGE"

// ChallengeResult is the outcome of one round as recorded by the identity provider.
type ChallengeResult int

const (
	ResultPending ChallengeResult = iota
	ResultTrue
	ResultFalse
)

func (r ChallengeResult) String() string {
	switch r {
	case ResultTrue:
		return "true"
	case ResultFalse:
		return "false"
	default:
		return "pending"
	}
}

// ResultFromBool maps the provider's boolean result onto ChallengeResult.
func ResultFromBool(ok bool) ChallengeResult {
	if ok {
		return ResultTrue
	}
	return ResultFalse
}

// ChallengeRound is one issue-answer-verify cycle. Metadata is whatever the
// challenge issuer stored for that round, verbatim.
type ChallengeRound struct {
	ChallengeName string
	Result        ChallengeResult
	Metadata      string
}

// AuthSession is the provider-owned round history, oldest first.
type AuthSession struct {
	Rounds []ChallengeRound
}

func (s AuthSession) Len() int {
	return len(s.Rounds)
}

// Last returns the most recent round, or false when the session is empty.
func (s AuthSession) Last() (ChallengeRound, bool) {
	if len(s.Rounds) == 0 {
		return ChallengeRound{}, false
	}
	return s.Rounds[len(s.Rounds)-1], true
}

// Metadata kinds
const (
	MetadataKindOTP   = "otp"
	MetadataKindError = "error"
)

var ErrUnparsableMetadata = errors.New("unparsable challenge metadata")

// ChallengeMetadata is the payload attached to each round. Kind tags the
// record: "otp" rounds carry a code, "error" rounds carry the failure that
// produced a fallback response.
type ChallengeMetadata struct {
	Kind          string    `json:"kind"`
	Code          string    `json:"code,omitempty"`
	IssuedAt      time.Time `json:"issuedAt"`
	PhoneNumber   string    `json:"phoneNumber,omitempty"`
	AttemptNumber int       `json:"attemptNumber,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Encode serializes the metadata for the provider's opaque metadata field.
func (m ChallengeMetadata) Encode() string {
	raw, err := json.Marshal(m)
	if err != nil {
		// Every field is a plain scalar; Marshal cannot fail here.
		panic(fmt.Sprintf("encode challenge metadata: %v", err))
	}
	return string(raw)
}

// ParseChallengeMetadata decodes metadata written by Encode. Any payload that
// is not a well-formed otp record with a code and a timestamp is reported as
// ErrUnparsableMetadata.
func ParseChallengeMetadata(raw string) (*ChallengeMetadata, error) {
	if raw == "" {
		return nil, ErrUnparsableMetadata
	}
	var m ChallengeMetadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsableMetadata, err)
	}
	if m.Kind != MetadataKindOTP || m.Code == "" || m.IssuedAt.IsZero() {
		return nil, ErrUnparsableMetadata
	}
	return &m, nil
}

// IssuedWithin reports whether the round behind raw was issued inside
// [now-window, now]. Rounds whose timestamp cannot be read count as inside
// the window, so a damaged history can only tighten rate limiting.
func IssuedWithin(raw string, now time.Time, window time.Duration) bool {
	var m ChallengeMetadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m.IssuedAt.IsZero() {
		return true
	}
	return now.Sub(m.IssuedAt) < window
}
