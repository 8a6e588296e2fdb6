package captcha

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"horizon-apply-service/internal/domain"
)

// Verifier checks anti-bot tokens against a siteverify endpoint
// (hCaptcha/Turnstile wire shape). Tokens are single-use upstream, so a
// failed final submit needs a fresh token on retry.
type Verifier struct {
	client    *resty.Client
	verifyURL string
	secret    string
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

func NewVerifier(verifyURL, secret string) *Verifier {
	return &Verifier{
		client:    resty.New().SetTimeout(10 * time.Second),
		verifyURL: verifyURL,
		secret:    secret,
	}
}

func (v *Verifier) Verify(ctx context.Context, token string) error {
	if token == "" {
		return domain.ErrMissingCaptcha
	}

	var result siteverifyResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"secret":   v.secret,
			"response": token,
		}).
		SetResult(&result).
		Post(v.verifyURL)
	if err != nil {
		return fmt.Errorf("%w: captcha verify: %v", domain.ErrUpstream, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: captcha verify: status %d", domain.ErrUpstream, resp.StatusCode())
	}
	if !result.Success {
		return fmt.Errorf("%w: captcha rejected (%s)", domain.ErrValidation, strings.Join(result.ErrorCodes, ","))
	}
	return nil
}
