package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/relaydev/recaptcha-relay/pkg/models"
)

// ErrProviderFailed covers every way the external provider can fail to
// produce a token: transport errors, non-2xx responses, timeouts, or the
// dispatcher not being configured at all.
var ErrProviderFailed = errors.New("fallback provider failed")

type solveRequest struct {
	TargetID  string `json:"targetId"`
	ClientKey string `json:"clientKey"`
}

type solveResponse struct {
	Token string `json:"token"`
	Error string `json:"error,omitempty"`
}

// Dispatcher calls a third-party token-solving provider. It is used only as
// a fallback and never retries; caller-level retry, if any, is not its job.
type Dispatcher struct {
	url       string
	clientKey string
	client    *http.Client
}

// New creates a dispatcher for the given provider endpoint and credential.
// Empty url or clientKey produce a disabled dispatcher whose Solve fails
// immediately.
func New(url, clientKey string, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		url:       url,
		clientKey: clientKey,
		client:    &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a provider endpoint and credential are configured
func (d *Dispatcher) Enabled() bool {
	return d != nil && d.url != "" && d.clientKey != ""
}

// Solve asks the provider for one token.
func (d *Dispatcher) Solve(ctx context.Context, req models.TokenRequest) (string, error) {
	if !d.Enabled() {
		return "", fmt.Errorf("%w: no provider configured", ErrProviderFailed)
	}

	body, err := json.Marshal(solveRequest{TargetID: req.TargetID, ClientKey: d.clientKey})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrProviderFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrProviderFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: provider returned status %d", ErrProviderFailed, resp.StatusCode)
	}

	var out solveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrProviderFailed, err)
	}
	if out.Token == "" {
		if out.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrProviderFailed, out.Error)
		}
		return "", fmt.Errorf("%w: empty token in response", ErrProviderFailed)
	}
	return out.Token, nil
}
