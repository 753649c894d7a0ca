package core

import (
	"context"
	"errors"
)

// Guard enforces single-use redemption. It is the only writer of a token
// after issuance, and it only writes by taking.
type Guard struct {
	store TokenStore
}

// Consume redeems the token exactly once. Never-issued, already-consumed
// and expired ids all return ErrInvalidOrUsedToken through the same
// absent-value code path. Store transport failures pass through as
// ErrStoreUnavailable and are never downgraded to a token error.
//
// With no store configured, Consume succeeds unconditionally; the service
// surfaces that mode to the caller instead of pretending the guarantee
// holds.
func (g *Guard) Consume(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidOrUsedToken
	}
	if g.store == nil {
		return nil
	}

	_, err := g.store.Take(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return ErrInvalidOrUsedToken
	default:
		return err
	}
}
