package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LuisAll12/captcha-gate/core"
)

type stubVerifier struct {
	result core.VerifyResult
	err    error
}

func (v stubVerifier) Verify(context.Context, string, string) (core.VerifyResult, error) {
	return v.result, v.err
}

func newTestServer(t *testing.T, verifier core.CaptchaVerifier, cfg config) *httptest.Server {
	t.Helper()
	store := core.NewMemoryStore()
	t.Cleanup(store.Close)

	svc, err := core.NewService(core.Config{
		Store:    store,
		Verifier: verifier,
		Strict:   true,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(newRouter(svc, cfg, zerolog.Nop(), nil))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestVerifyThenConsumeRoundTrip(t *testing.T) {
	srv := newTestServer(t, stubVerifier{result: core.VerifyResult{Score: 0.9}}, config{AllowedOrigins: "*"})

	resp, body := postJSON(t, srv.URL+"/recaptcha/verify", map[string]string{"token": "challenge-response"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	oneTime, _ := body["one_time_token"].(string)
	assert.Len(t, oneTime, 22)
	assert.Equal(t, float64(300), body["ttl"])
	assert.NotContains(t, body, "note")

	resp, body = postJSON(t, srv.URL+"/token/consume", map[string]string{"one_time_token": oneTime}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	resp, body = postJSON(t, srv.URL+"/token/consume", map[string]string{"one_time_token": oneTime}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_or_used_token", body["error"])
}

func TestVerifyMissingToken(t *testing.T) {
	srv := newTestServer(t, stubVerifier{}, config{AllowedOrigins: "*"})

	resp, body := postJSON(t, srv.URL+"/recaptcha/verify", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing token", body["error"])
}

func TestVerifyRejectedCaptcha(t *testing.T) {
	verifier := stubVerifier{
		result: core.VerifyResult{ErrorCodes: []string{"invalid-input-response"}},
		err:    fmt.Errorf("%w: invalid-input-response", core.ErrVerificationRejected),
	}
	srv := newTestServer(t, verifier, config{AllowedOrigins: "*"})

	resp, body := postJSON(t, srv.URL+"/recaptcha/verify", map[string]string{"token": "bad"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "recaptcha invalid", body["error"])
}

func TestVerifyUpstreamFailure(t *testing.T) {
	verifier := stubVerifier{err: fmt.Errorf("%w: connection refused", core.ErrUpstream)}
	srv := newTestServer(t, verifier, config{AllowedOrigins: "*"})

	resp, _ := postJSON(t, srv.URL+"/recaptcha/verify", map[string]string{"token": "x"}, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestVerifyWithoutSecretConfigured(t *testing.T) {
	srv := newTestServer(t, nil, config{AllowedOrigins: "*"})

	resp, body := postJSON(t, srv.URL+"/recaptcha/verify", map[string]string{"token": "x"}, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "RECAPTCHA_SECRET not configured", body["error"])
}

func TestConsumeMissingToken(t *testing.T) {
	srv := newTestServer(t, stubVerifier{}, config{AllowedOrigins: "*"})

	resp, body := postJSON(t, srv.URL+"/token/consume", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing one_time_token", body["error"])
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, stubVerifier{}, config{AllowedOrigins: "https://game.example"})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/token/consume", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://game.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
}

func TestConsumeJWTGate(t *testing.T) {
	const secret = "service-secret"
	srv := newTestServer(t, stubVerifier{}, config{AllowedOrigins: "*", ConsumeJWTSecret: secret})

	resp, body := postJSON(t, srv.URL+"/token/consume", map[string]string{"one_time_token": "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing bearer token", body["error"])

	claims := jwt.MapClaims{
		"sub": "game-backend",
		"exp": time.Now().Add(time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)

	headers := map[string]string{"Authorization": "Bearer " + signed}
	resp, body = postJSON(t, srv.URL+"/token/consume", map[string]string{"one_time_token": "unknown"}, headers)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_or_used_token", body["error"])
}
