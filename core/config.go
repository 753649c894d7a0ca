package core

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Options wires a Service from deployment knobs. A Redis address selects
// the shared store; without one the store falls back to process memory,
// and DisableStore opts into running with no store at all.
type Options struct {
	RedisAddr      string
	RedisKeyPrefix string

	// DisableStore runs the service in no-guarantee mode. Meant for
	// single-shot environments with no reachable store; never the same
	// thing as the guaranteed modes.
	DisableStore bool

	RecaptchaSecret string

	DefaultTTL time.Duration
	Strict     bool

	Metrics *Metrics
	Logger  zerolog.Logger
}

func NewServiceWithOptions(ctx context.Context, opts Options) (*Service, error) {
	var store TokenStore

	switch {
	case opts.DisableStore:
		// Service logs the no-guarantee warning.
	case opts.RedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("%w: ping %s: %v", ErrStoreUnavailable, opts.RedisAddr, err)
		}
		rs, err := NewRedisStore(ctx, client, opts.RedisKeyPrefix)
		if err != nil {
			return nil, err
		}
		opts.Logger.Info().
			Str("addr", opts.RedisAddr).
			Bool("atomic", rs.Atomic()).
			Msg("using redis token store")
		store = rs
	default:
		opts.Logger.Info().Msg("using in-memory token store; state is not shared across instances")
		store = NewMemoryStore()
	}

	var verifier CaptchaVerifier
	if opts.RecaptchaSecret != "" {
		v, err := NewRecaptchaVerifier(opts.RecaptchaSecret)
		if err != nil {
			return nil, err
		}
		verifier = v
	}

	return NewService(Config{
		Store:      store,
		Verifier:   verifier,
		DefaultTTL: opts.DefaultTTL,
		Strict:     opts.Strict,
		Metrics:    opts.Metrics,
		Logger:     opts.Logger,
	})
}
