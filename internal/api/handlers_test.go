package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/relaydev/recaptcha-relay/internal/browser"
	"github.com/relaydev/recaptcha-relay/internal/ratelimit"
	"github.com/relaydev/recaptcha-relay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIssuer struct {
	result  models.TokenResult
	lastReq models.TokenRequest
	calls   int
}

func (f *fakeIssuer) IssueToken(ctx context.Context, req models.TokenRequest) models.TokenResult {
	f.calls++
	f.lastReq = req
	return f.result
}

type fakeHealth struct {
	state browser.State
}

func (f *fakeHealth) Health() browser.Status {
	if f.state == browser.StateCrashed {
		return browser.StatusUnhealthy
	}
	return browser.StatusReady
}

func (f *fakeHealth) CurrentState() browser.State {
	return f.state
}

func postToken(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.IssueToken(rec, req)
	return rec
}

func TestIssueTokenSuccess(t *testing.T) {
	issuer := &fakeIssuer{result: models.TokenResult{Success: true, Token: "tok_123", DurationMs: 412.5}}
	h := NewHandler(issuer, &fakeHealth{}, nil, true, true)

	rec := postToken(t, h, `{"targetId":"proj-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var result models.TokenResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "tok_123", result.Token)
	assert.Equal(t, "proj-1", issuer.lastReq.TargetID)
	assert.False(t, issuer.lastReq.ReceivedAt.IsZero())
}

func TestIssueTokenFailureStillOK(t *testing.T) {
	issuer := &fakeIssuer{result: models.TokenResult{Success: false, Error: models.ErrorSolveTimeout, DurationMs: 25000}}
	h := NewHandler(issuer, &fakeHealth{}, nil, true, true)

	rec := postToken(t, h, `{"targetId":"proj-1"}`)

	// Solve failures are payload, not HTTP errors.
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.TokenResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, models.ErrorSolveTimeout, result.Error)
	assert.Empty(t, result.Token)
}

func TestIssueTokenValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{not json`},
		{"missing targetId", `{}`},
		{"empty targetId", `{"targetId":""}`},
		{"negative timeout", `{"targetId":"proj-1","timeoutMs":-5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer := &fakeIssuer{}
			h := NewHandler(issuer, &fakeHealth{}, nil, true, true)

			rec := postToken(t, h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, issuer.calls, "invalid requests must not reach the issuer")
		})
	}
}

func TestIssueTokenRateLimited(t *testing.T) {
	issuer := &fakeIssuer{result: models.TokenResult{Success: true, Token: "tok"}}
	limiter := ratelimit.NewLimiter(100, 2)
	h := NewHandler(issuer, &fakeHealth{}, limiter, true, true)

	assert.Equal(t, http.StatusOK, postToken(t, h, `{"targetId":"proj-1"}`).Code)
	assert.Equal(t, http.StatusOK, postToken(t, h, `{"targetId":"proj-1"}`).Code)

	rec := postToken(t, h, `{"targetId":"proj-1"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, 2, issuer.calls)

	// Another target has its own bucket.
	assert.Equal(t, http.StatusOK, postToken(t, h, `{"targetId":"proj-2"}`).Code)
}

func TestHealthStates(t *testing.T) {
	tests := []struct {
		name       string
		state      browser.State
		wantStatus string
	}{
		{"ready", browser.StateReady, "healthy"},
		{"crashed", browser.StateCrashed, "unhealthy"},
		{"uninitialized", browser.StateUninitialized, "initializing"},
		{"starting", browser.StateStarting, "initializing"},
		{"restarting", browser.StateRestarting, "initializing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeIssuer{}, &fakeHealth{state: tt.state}, nil, true, true)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			h.Health(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)

			var resp models.HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, string(tt.state), resp.BrowserState)
			assert.True(t, resp.Headless)
		})
	}
}

func TestHealthLocalSolverDisabled(t *testing.T) {
	h := NewHandler(&fakeIssuer{}, &fakeHealth{state: browser.StateCrashed}, nil, false, false)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "DISABLED", resp.BrowserState)
}

func TestRootServiceInfo(t *testing.T) {
	h := NewHandler(&fakeIssuer{}, &fakeHealth{}, nil, true, true)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.Root(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var info models.ServiceInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "recaptcha-relay", info.Service)
	assert.Contains(t, info.Endpoints, "POST /token")
	assert.Contains(t, info.Endpoints, "GET /health")
}

func TestRoutesWired(t *testing.T) {
	issuer := &fakeIssuer{result: models.TokenResult{Success: true, Token: "tok"}}
	h := NewHandler(issuer, &fakeHealth{state: browser.StateReady}, nil, true, true)
	router := h.SetupRoutes()

	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(`{"targetId":"proj-1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/token", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
