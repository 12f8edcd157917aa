package issuer

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/relaydev/recaptcha-relay/internal/admission"
	"github.com/relaydev/recaptcha-relay/internal/browser"
	"github.com/relaydev/recaptcha-relay/internal/solver"
	"github.com/relaydev/recaptcha-relay/pkg/models"
)

// ContextSource hands out isolated browsing contexts from the supervised
// browser and accepts failure reports for crash detection.
type ContextSource interface {
	AcquireContext(ctx context.Context) (browser.Context, error)
	ReportFailure()
}

// Fallback is the external-provider stage of the pipeline.
type Fallback interface {
	Solve(ctx context.Context, req models.TokenRequest) (string, error)
	Enabled() bool
}

// Options configure the issuance pipeline.
type Options struct {
	// RequestTimeout bounds one issuance end to end; a per-request override
	// replaces it.
	RequestTimeout time.Duration
	// LocalEnabled gates the browser stage. When false every request goes
	// straight to the fallback provider without touching the supervisor or
	// the admission gate.
	LocalEnabled bool
	// FallbackEnabled allows dispatching to the provider after a local
	// failure.
	FallbackEnabled bool
}

// Orchestrator is the top-level token issuance pipeline: admit, acquire a
// context, solve, and fall back to the external provider on local failure.
// Every failure is folded into the TokenResult; nothing escapes past
// IssueToken.
type Orchestrator struct {
	gate     *admission.Gate
	source   ContextSource
	solver   solver.Solver
	fallback Fallback
	opts     Options
}

// New wires the pipeline stages together.
func New(gate *admission.Gate, source ContextSource, s solver.Solver, fb Fallback, opts Options) *Orchestrator {
	return &Orchestrator{
		gate:     gate,
		source:   source,
		solver:   s,
		fallback: fb,
		opts:     opts,
	}
}

// IssueToken runs one issuance attempt end to end.
func (o *Orchestrator) IssueToken(ctx context.Context, req models.TokenRequest) models.TokenResult {
	start := time.Now()

	timeout := o.opts.RequestTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if o.opts.LocalEnabled {
		token, kind := o.solveLocally(reqCtx, req)
		if kind == "" {
			return success(start, token)
		}
		if !o.fallbackAllowed() {
			return failure(start, kind)
		}
		log.Printf("issuer: local solve failed (%s), dispatching to fallback provider", kind)
	}

	if o.fallback == nil {
		return failure(start, models.ErrorProviderFailed)
	}
	token, err := o.fallback.Solve(reqCtx, req)
	if err != nil {
		log.Printf("issuer: fallback provider failed: %v", err)
		return failure(start, models.ErrorProviderFailed)
	}
	return success(start, token)
}

// solveLocally runs the admit -> acquire context -> solve sequence. The
// admission ticket and the browsing context are released exactly once, on
// every exit path including timeout and cancellation.
func (o *Orchestrator) solveLocally(ctx context.Context, req models.TokenRequest) (string, models.ErrorKind) {
	ticket, err := o.gate.Admit(ctx)
	if err != nil {
		return "", models.ErrorAdmissionTimeout
	}
	defer ticket.Release()

	bctx, err := o.source.AcquireContext(ctx)
	if err != nil {
		log.Printf("issuer: no browser context available: %v", err)
		return "", models.ErrorBrowserUnavailable
	}
	defer func() {
		if cerr := bctx.Close(); cerr != nil {
			log.Printf("issuer: context close failed: %v", cerr)
		}
	}()

	token, err := o.solver.Solve(ctx, bctx, req)
	if err != nil {
		o.source.ReportFailure()
		if errors.Is(err, solver.ErrSolveTimeout) {
			return "", models.ErrorSolveTimeout
		}
		log.Printf("issuer: solve failed: %v", err)
		return "", models.ErrorSolveFailed
	}
	return token, ""
}

func (o *Orchestrator) fallbackAllowed() bool {
	return o.opts.FallbackEnabled && o.fallback != nil && o.fallback.Enabled()
}

func success(start time.Time, token string) models.TokenResult {
	return models.TokenResult{
		Success:    true,
		Token:      token,
		DurationMs: msSince(start),
	}
}

func failure(start time.Time, kind models.ErrorKind) models.TokenResult {
	return models.TokenResult{
		Success:    false,
		Error:      kind,
		DurationMs: msSince(start),
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
