package model

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// Scope identifies which downstream action a session authorizes. A session
// created for one scope never authorizes an action under another.
type Scope string

const (
	ScopeContact     Scope = "contact"
	ScopeCareers     Scope = "careers"
	ScopeReview      Scope = "review"
	ScopeBlogComment Scope = "blog-comment"
)

// ParseScope validates a caller-supplied scope string against the closed set.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeContact, ScopeCareers, ScopeReview, ScopeBlogComment:
		return Scope(s), nil
	case "":
		return ScopeContact, nil
	}
	return "", fmt.Errorf("unknown scope: %q", s)
}

// Channel is a delivery channel for one-time codes.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// Session is the OTP verification session record. Lifecycle is strictly
// linear: created -> (verified) -> (used) -> expired via TTL.
type Session struct {
	ID          string  `json:"id"`
	Identifier  string  `json:"identifier"`
	Scope       Scope   `json:"scope"`
	OTPHash     string  `json:"otp_hash"`
	ExpiresAt   int64   `json:"expires_at"`
	Tries       int     `json:"tries"`
	Verified    bool    `json:"verified"`
	Used        bool    `json:"used"`
	IP          string  `json:"ip"`
	ChannelUsed Channel `json:"channel_used,omitempty"`
	CreatedAt   int64   `json:"created_at"`
	VerifiedAt  int64   `json:"verified_at,omitempty"`
	UsedAt      int64   `json:"used_at,omitempty"`
}

// AttemptOutcome is the typed result of a verification attempt.
type AttemptOutcome string

const (
	AttemptOK              AttemptOutcome = "ok"
	AttemptInvalidSession  AttemptOutcome = "invalid_session"
	AttemptExpired         AttemptOutcome = "expired"
	AttemptAlreadyUsed     AttemptOutcome = "already_used"
	AttemptTooManyAttempts AttemptOutcome = "too_many_attempts"
	AttemptInvalidOTP      AttemptOutcome = "invalid_otp"
)

// Expired reports whether the session is past its absolute expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.Unix() > s.ExpiresAt
}

// ApplyAttempt applies one verification attempt to the session in memory.
// The caller is responsible for persisting the mutated session atomically.
//
// Rules: expiry is absolute and checked first; a used session never verifies
// again; an attempt at or past the try cap is still counted so the cap is
// sticky; otherwise the attempt is counted and the code compared against the
// stored SHA-256 digest in constant time.
func (s *Session) ApplyAttempt(code string, now time.Time, tryCap int) AttemptOutcome {
	if s.Expired(now) {
		return AttemptExpired
	}
	if s.Used {
		return AttemptAlreadyUsed
	}
	if s.Tries >= tryCap {
		s.Tries++
		return AttemptTooManyAttempts
	}
	s.Tries++
	if !HashEqual(HashCode(code), s.OTPHash) {
		return AttemptInvalidOTP
	}
	s.Verified = true
	s.VerifiedAt = now.Unix()
	return AttemptOK
}

// HashCode returns the hex-encoded SHA-256 digest of a one-time code. The
// store only ever holds this digest, never the plaintext code.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// HashEqual compares two digests in constant time.
func HashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
