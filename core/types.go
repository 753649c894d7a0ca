package core

import (
	"errors"
	"time"
)

// Token is a single-use credential. Its authoritative state lives in the
// TokenStore; this struct only describes what was issued.
type Token struct {
	ID        string        `json:"id"`
	IssuedAt  time.Time     `json:"issued_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	TTL       time.Duration `json:"-"`

	// Guaranteed is false when the token was issued without a backing
	// store, or when a store write failed under a non-strict policy.
	// Such tokens can be replayed; the operator surface must say so.
	Guaranteed bool `json:"guaranteed"`
}

// VerifyResult carries the captcha provider's diagnostics. It is stored as
// token metadata and never examined by the redemption path.
type VerifyResult struct {
	Score       float64  `json:"score"`
	Hostname    string   `json:"hostname"`
	ChallengeTS string   `json:"challenge_ts"`
	ErrorCodes  []string `json:"error_codes,omitempty"`
}

var (
	// ErrNotFound is returned by TokenStore.Take when the key is absent,
	// whether it never existed, was already taken, or expired.
	ErrNotFound = errors.New("token not found")

	// ErrInvalidOrUsedToken is the single redemption failure. Never-issued,
	// already-consumed and expired tokens all map to it so callers cannot
	// probe token existence.
	ErrInvalidOrUsedToken = errors.New("invalid_or_used_token")

	// ErrStoreUnavailable wraps store transport failures. It is never
	// reinterpreted as ErrInvalidOrUsedToken.
	ErrStoreUnavailable = errors.New("token store unavailable")

	ErrValidation           = errors.New("invalid request")
	ErrUpstream             = errors.New("captcha upstream failed")
	ErrVerificationRejected = errors.New("captcha rejected")
	ErrMissingSecret        = errors.New("captcha secret not configured")
)
