package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"verify-service/internal/util"
)

// ErrFailed means the CAPTCHA provider rejected the token. The message is
// the caller-visible error code.
var ErrFailed = errors.New("recaptcha_failed")

// Verifier checks a CAPTCHA token for a given client address.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// RecaptchaVerifier validates tokens against the reCAPTCHA siteverify
// endpoint.
type RecaptchaVerifier struct {
	secret     string
	endpoint   string
	httpClient *http.Client
}

func NewRecaptchaVerifier(secret, endpoint string) *RecaptchaVerifier {
	return &RecaptchaVerifier{
		secret:   secret,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	ErrorCodes []string `json:"error-codes"`
}

func (v *RecaptchaVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	if v.secret == "" {
		// No secret configured: dev-only bypass, loudly logged.
		util.Warn("reCAPTCHA secret not configured, skipping verification")
		return nil
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("siteverify request failed: %w", err)
	}
	defer resp.Body.Close()

	var result siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode siteverify response: %w", err)
	}

	if !result.Success {
		util.Warn("reCAPTCHA verification rejected",
			zap.Strings("error_codes", result.ErrorCodes),
			zap.String("remote_ip", remoteIP))
		return ErrFailed
	}

	return nil
}
