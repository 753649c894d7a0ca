package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const siteverifyURL = "https://www.google.com/recaptcha/api/siteverify"

const verifyTimeout = 10 * time.Second

// CaptchaVerifier validates an authorization proof with an external
// provider. It is opaque to the token core: accept/reject plus metadata.
type CaptchaVerifier interface {
	Verify(ctx context.Context, response, remoteIP string) (VerifyResult, error)
}

// RecaptchaVerifier calls Google's siteverify endpoint.
type RecaptchaVerifier struct {
	secret   string
	endpoint string
	client   *http.Client
}

func NewRecaptchaVerifier(secret string) (*RecaptchaVerifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &RecaptchaVerifier{
		secret:   secret,
		endpoint: siteverifyURL,
		client:   &http.Client{Timeout: verifyTimeout},
	}, nil
}

type siteverifyResponse struct {
	Success     bool     `json:"success"`
	Score       float64  `json:"score"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	ErrorCodes  []string `json:"error-codes"`
}

// Verify posts the challenge response to siteverify. Transport failures
// and non-conforming upstream replies surface as ErrUpstream; an explicit
// rejection surfaces as ErrVerificationRejected with the provider's codes
// attached for diagnostics.
func (v *RecaptchaVerifier) Verify(ctx context.Context, response, remoteIP string) (VerifyResult, error) {
	form := url.Values{
		"secret":   {v.secret},
		"response": {response},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		// Truncate the body so an upstream error page cannot flood logs.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return VerifyResult{}, fmt.Errorf("%w: non-json reply: %s", ErrUpstream, snippet)
	}

	var sv siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&sv); err != nil {
		return VerifyResult{}, fmt.Errorf("%w: decode reply: %v", ErrUpstream, err)
	}

	result := VerifyResult{
		Score:       sv.Score,
		Hostname:    sv.Hostname,
		ChallengeTS: sv.ChallengeTS,
		ErrorCodes:  sv.ErrorCodes,
	}
	if !sv.Success {
		return result, fmt.Errorf("%w: %s", ErrVerificationRejected, strings.Join(sv.ErrorCodes, ","))
	}
	return result, nil
}
