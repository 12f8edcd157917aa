package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/relaydev/recaptcha-relay/internal/browser"
	"github.com/relaydev/recaptcha-relay/internal/ratelimit"
	"github.com/relaydev/recaptcha-relay/pkg/models"
)

const serviceVersion = "1.0.0"

// TokenIssuer is the orchestration entry point the HTTP layer drives.
type TokenIssuer interface {
	IssueToken(ctx context.Context, req models.TokenRequest) models.TokenResult
}

// HealthReporter exposes the browser supervisor's liveness view.
type HealthReporter interface {
	Health() browser.Status
	CurrentState() browser.State
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	issuer       TokenIssuer
	health       HealthReporter
	limiter      *ratelimit.Limiter
	headless     bool
	localEnabled bool
}

// NewHandler creates a new HTTP handler
func NewHandler(issuer TokenIssuer, health HealthReporter, limiter *ratelimit.Limiter, headless, localEnabled bool) *Handler {
	return &Handler{
		issuer:       issuer,
		health:       health,
		limiter:      limiter,
		headless:     headless,
		localEnabled: localEnabled,
	}
}

// IssueToken handles POST /token
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req models.TokenRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.TargetID == "" {
		http.Error(w, "targetId is required", http.StatusBadRequest)
		return
	}
	if req.TimeoutMs < 0 {
		http.Error(w, "timeoutMs must not be negative", http.StatusBadRequest)
		return
	}
	req.ReceivedAt = time.Now()

	if h.limiter != nil {
		if !h.limiter.Allow(req.TargetID) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.limiter.PerHour()))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "rate limit exceeded for target",
			})
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.limiter.PerHour()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(h.limiter.Tokens(req.TargetID))))
	}

	result := h.issuer.IssueToken(r.Context(), req)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Health handles GET /health. Always 200: an unhealthy browser is
// informational, the service keeps accepting requests and retries on use.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{Headless: h.headless}

	if !h.localEnabled {
		resp.Status = "healthy"
		resp.BrowserState = "DISABLED"
	} else {
		state := h.health.CurrentState()
		resp.BrowserState = string(state)
		switch state {
		case browser.StateReady:
			resp.Status = "healthy"
		case browser.StateCrashed:
			resp.Status = "unhealthy"
		default:
			resp.Status = "initializing"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Root handles GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	info := models.ServiceInfo{
		Service: "recaptcha-relay",
		Version: serviceVersion,
		Endpoints: map[string]string{
			"POST /token": "issue a reCAPTCHA token",
			"GET /health": "health check",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}
