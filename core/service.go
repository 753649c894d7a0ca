package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Service orchestrates the two flows: authorization success feeds the
// issuer, redemption requests feed the guard. Both share one injected
// store instance; nothing caches token state outside it.
type Service struct {
	store      TokenStore
	verifier   CaptchaVerifier
	issuer     *Issuer
	guard      *Guard
	metrics    *Metrics
	logger     zerolog.Logger
	defaultTTL time.Duration
}

type Config struct {
	// Store may be nil, which puts the whole service in no-guarantee
	// mode: issuance still hands out ids but redemption cannot prevent
	// replay. The mode is logged at startup and flagged on every token.
	Store      TokenStore
	Verifier   CaptchaVerifier
	DefaultTTL time.Duration

	// Strict fails issuance on store write errors instead of degrading
	// to a no-guarantee token.
	Strict bool

	Metrics *Metrics
	Logger  zerolog.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	switch {
	case cfg.Store == nil:
		cfg.Logger.Warn().Msg("no token store configured; single-use redemption is NOT enforced")
	case !cfg.Store.Atomic():
		cfg.Logger.Warn().Msg("token store lacks an atomic take; same-key locking covers this process only, horizontal scaling voids the single-use guarantee")
	}

	return &Service{
		store:    cfg.Store,
		verifier: cfg.Verifier,
		issuer: &Issuer{
			store:  cfg.Store,
			now:    nowFn,
			strict: cfg.Strict,
			logger: cfg.Logger,
		},
		guard:      &Guard{store: cfg.Store},
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		defaultTTL: ttl,
	}, nil
}

// VerifyAndIssue validates the captcha proof and, on acceptance, issues a
// one-time token carrying the provider score and client address as
// metadata.
func (s *Service) VerifyAndIssue(ctx context.Context, captchaResponse, remoteIP string) (Token, VerifyResult, error) {
	if captchaResponse == "" {
		return Token{}, VerifyResult{}, fmt.Errorf("%w: missing captcha response", ErrValidation)
	}
	if s.verifier == nil {
		return Token{}, VerifyResult{}, ErrMissingSecret
	}

	result, err := s.verifier.Verify(ctx, captchaResponse, remoteIP)
	if err != nil {
		switch {
		case errors.Is(err, ErrVerificationRejected):
			s.metrics.countVerify("rejected")
		default:
			s.metrics.countVerify("upstream_error")
		}
		return Token{}, result, err
	}
	s.metrics.countVerify("ok")

	metadata := map[string]string{}
	if result.Score > 0 {
		metadata["score"] = strconv.FormatFloat(result.Score, 'f', -1, 64)
	}
	if remoteIP != "" {
		metadata["remote_ip"] = remoteIP
	}

	token, err := s.Issue(ctx, s.defaultTTL, metadata)
	return token, result, err
}

// Issue hands out a token directly, for callers whose authorization
// decision was made elsewhere.
func (s *Service) Issue(ctx context.Context, ttl time.Duration, metadata map[string]string) (Token, error) {
	token, err := s.issuer.Issue(ctx, ttl, metadata)
	if err != nil {
		return Token{}, err
	}
	s.metrics.countIssued()
	s.logger.Debug().
		Str("token_id", token.ID).
		Dur("ttl", token.TTL).
		Bool("guaranteed", token.Guaranteed).
		Msg("token issued")
	return token, nil
}

// Consume redeems a token. A failed consume is final for that call; there
// are no retries inside the core.
func (s *Service) Consume(ctx context.Context, id string) error {
	err := s.guard.Consume(ctx, id)
	switch {
	case err == nil:
		s.metrics.countConsume("ok")
	case errors.Is(err, ErrInvalidOrUsedToken):
		s.metrics.countConsume("invalid")
	default:
		s.metrics.countConsume("store_error")
	}
	return err
}

// Guaranteed reports whether redemption is backed by a store at all.
func (s *Service) Guaranteed() bool {
	return s.store != nil
}
