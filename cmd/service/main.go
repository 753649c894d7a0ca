package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/LuisAll12/captcha-gate/core"
)

func main() {
	cfg := loadConfig()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.LogPretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	registry := prometheus.NewRegistry()
	metrics := core.NewMetrics(registry)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	svc, err := core.NewServiceWithOptions(ctx, core.Options{
		RedisAddr:       cfg.RedisAddr,
		RedisKeyPrefix:  cfg.RedisKeyPrefix,
		DisableStore:    cfg.DisableStore,
		RecaptchaSecret: cfg.RecaptchaSecret,
		DefaultTTL:      cfg.TokenTTL,
		Strict:          cfg.StrictIssuance,
		Metrics:         metrics,
		Logger:          logger,
	})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("init service")
	}

	r := newRouter(svc, cfg, logger, registry)

	addr := ":" + strconv.Itoa(cfg.Port)
	logger.Info().Str("addr", addr).Bool("redis", cfg.RedisAddr != "").Msg("listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func newRouter(svc *core.Service, cfg config, logger zerolog.Logger, registry *prometheus.Registry) chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger(logger))
	r.Use(cors(cfg.AllowedOrigins))

	r.Post("/recaptcha/verify", handleVerify(svc))
	if cfg.ConsumeJWTSecret != "" {
		r.With(jwtAuth(cfg.ConsumeJWTSecret)).Post("/token/consume", handleConsume(svc, logger))
	} else {
		r.Post("/token/consume", handleConsume(svc, logger))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	return r
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	OneTimeToken string `json:"one_time_token"`
	TTL          int64  `json:"ttl"`
	Note         string `json:"note,omitempty"`
}

func handleVerify(svc *core.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.Token == "" {
			writeError(w, http.StatusBadRequest, "missing token")
			return
		}

		token, result, err := svc.VerifyAndIssue(r.Context(), req.Token, clientIP(r))
		if err != nil {
			switch {
			case errors.Is(err, core.ErrValidation):
				writeError(w, http.StatusBadRequest, "invalid request")
			case errors.Is(err, core.ErrMissingSecret):
				writeError(w, http.StatusInternalServerError, "RECAPTCHA_SECRET not configured")
			case errors.Is(err, core.ErrVerificationRejected):
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error":   "recaptcha invalid",
					"details": result.ErrorCodes,
				})
			case errors.Is(err, core.ErrUpstream):
				writeError(w, http.StatusBadGateway, "upstream request failed")
			case errors.Is(err, core.ErrStoreUnavailable):
				writeError(w, http.StatusServiceUnavailable, "token store unavailable")
			default:
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		resp := verifyResponse{
			OneTimeToken: token.ID,
			TTL:          int64(token.TTL.Seconds()),
		}
		if !token.Guaranteed {
			resp.Note = "single-use not enforced"
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

type consumeRequest struct {
	OneTimeToken string `json:"one_time_token"`
}

func handleConsume(svc *core.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req consumeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.OneTimeToken == "" {
			writeError(w, http.StatusBadRequest, "missing one_time_token")
			return
		}

		if err := svc.Consume(r.Context(), req.OneTimeToken); err != nil {
			switch {
			case errors.Is(err, core.ErrInvalidOrUsedToken):
				writeError(w, http.StatusBadRequest, "invalid_or_used_token")
			case errors.Is(err, core.ErrStoreUnavailable):
				writeError(w, http.StatusServiceUnavailable, "token store unavailable")
			default:
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		if caller, ok := r.Context().Value(callerIDKey).(string); ok && caller != "" {
			logger.Info().Str("caller", caller).Msg("token consumed")
		}

		body := map[string]any{"ok": true}
		if !svc.Guaranteed() {
			body["note"] = "single-use not enforced"
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// --- middleware & helpers ---

type contextKey string

const callerIDKey contextKey = "caller_id"

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := uuid.NewString()
			next.ServeHTTP(w, r)
			logger.Info().
				Str("request_id", reqID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// cors handles the origin policy entirely at this boundary; the core
// never sees it.
func cors(allowedOrigins string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowedOrigins)
			h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// jwtAuth gates redemption behind a service-to-service bearer token. The
// sub claim identifies the calling backend; what redemption grants that
// caller is its own concern.
func jwtAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			caller, err := parseServiceJWT(strings.TrimSpace(auth[7:]), secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}
			ctx := context.WithValue(r.Context(), callerIDKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseServiceJWT(tokenStr, secret string) (string, error) {
	tok, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return "", errors.New("invalid jwt")
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- config ---

type config struct {
	Port             int
	RedisAddr        string
	RedisKeyPrefix   string
	DisableStore     bool
	RecaptchaSecret  string
	TokenTTL         time.Duration
	StrictIssuance   bool
	AllowedOrigins   string
	ConsumeJWTSecret string
	LogPretty        bool
}

func loadConfig() config {
	port := 8080
	if p := os.Getenv("PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	ttl := core.DefaultTTL
	if t := os.Getenv("ONE_TIME_TTL_SECONDS"); t != "" {
		if v, err := strconv.Atoi(t); err == nil && v > 0 {
			ttl = time.Duration(v) * time.Second
		}
	}
	return config{
		Port:             port,
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisKeyPrefix:   os.Getenv("REDIS_KEY_PREFIX"),
		DisableStore:     boolEnv("DISABLE_STORE", false),
		RecaptchaSecret:  os.Getenv("RECAPTCHA_SECRET"),
		TokenTTL:         ttl,
		StrictIssuance:   boolEnv("STRICT_ISSUANCE", true),
		AllowedOrigins:   envOr("ALLOWED_ORIGINS", "*"),
		ConsumeJWTSecret: os.Getenv("CONSUME_JWT_SECRET"),
		LogPretty:        boolEnv("LOG_PRETTY", false),
	}
}

func envOr(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func boolEnv(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return parsed
}
