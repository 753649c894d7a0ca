package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTTL is the token lifetime when the caller does not pick one.
const DefaultTTL = 300 * time.Second

// tokenIDBytes gives 128 bits of entropy; uniqueness is enforced by
// entropy alone, not by lookups.
const tokenIDBytes = 16

// Issuer generates unguessable token ids and persists them as unused.
type Issuer struct {
	store  TokenStore
	now    func() time.Time
	strict bool
	logger zerolog.Logger
}

// Issue creates a token with the given lifetime. Metadata is stored next
// to the token for diagnostics; the redemption path never reads it.
//
// With no store configured the id is still returned, flagged no-guarantee.
// A failed store write either fails the issuance (strict, the default
// policy) or degrades to a no-guarantee token with a warning log.
func (i *Issuer) Issue(ctx context.Context, ttl time.Duration, metadata map[string]string) (Token, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	id, err := newTokenID()
	if err != nil {
		return Token{}, fmt.Errorf("generate token id: %w", err)
	}

	now := i.now()
	token := Token{
		ID:         id,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
		TTL:        ttl,
		Guaranteed: i.store != nil,
	}
	if i.store == nil {
		return token, nil
	}

	value := "unused"
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return Token{}, fmt.Errorf("marshal token metadata: %w", err)
		}
		value = string(raw)
	}

	if err := i.store.Put(ctx, id, value, ttl); err != nil {
		if i.strict {
			return Token{}, err
		}
		i.logger.Warn().Err(err).Msg("store write failed, issuing without single-use guarantee")
		token.Guaranteed = false
	}
	return token, nil
}

// newTokenID returns a cryptographically random, URL-safe id. It carries
// no issuance order, address or time component.
func newTokenID() (string, error) {
	var b [tokenIDBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
