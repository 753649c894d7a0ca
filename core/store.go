package core

import (
	"context"
	"time"
)

// KeyPrefix namespaces token keys so a shared store cannot collide with
// unrelated data.
const KeyPrefix = "one_time:"

// TokenStore is the substrate a token's existence lives in.
//
// The interface deliberately exposes no Get/Delete pair: the only read is
// Take, which removes the value it returns. That keeps consumers from
// composing a non-atomic read-then-delete themselves.
type TokenStore interface {
	// Put makes id readable until ttl elapses or the value is taken.
	// Overwrite semantics are undefined; callers never reuse ids.
	Put(ctx context.Context, id, value string, ttl time.Duration) error

	// Take returns the stored value and removes it, or ErrNotFound when
	// the id is absent (never issued, already taken, or expired).
	Take(ctx context.Context, id string) (string, error)

	// Atomic reports whether Take is linearizable for every holder of the
	// backing store: of N concurrent takers of the same id, exactly one
	// observes the value. Non-atomic stores serialize same-key takes
	// inside this process only.
	Atomic() bool
}
