package events

import (
	"time"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/encryption"
)

// Event types
const (
	ChallengeSent      = "challenge_sent"
	ChallengeReused    = "challenge_reused"
	ChallengeFailed    = "challenge_failed"
	RateLimited        = "rate_limited"
	AnswerVerified     = "answer_verified"
	AnswerRejected     = "answer_rejected"
	ProfileProvisioned = "profile_provisioned"
	ProvisioningFailed = "provisioning_failed"
	SessionExhausted   = "session_exhausted"
)

// AuthEvent is one observable step of the phone login flow. Codes are never
// part of an event.
type AuthEvent struct {
	Type           string                    `json:"type"`
	UserName       string                    `json:"user_name,omitempty"`
	PhoneHash      string                    `json:"phone_hash,omitempty"`
	PhoneEncrypted *encryption.EncryptedData `json:"phone_encrypted,omitempty"`
	Attempt        int                       `json:"attempt,omitempty"`
	Detail         string                    `json:"detail,omitempty"`
	OccurredAt     time.Time                 `json:"occurred_at"`
}
