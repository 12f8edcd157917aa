package solver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/relaydev/recaptcha-relay/internal/browser"
	"github.com/relaydev/recaptcha-relay/pkg/models"
)

var (
	// ErrSolveFailed means the challenge script did not yield a token.
	ErrSolveFailed = errors.New("challenge did not yield a token")
	// ErrSolveTimeout means the challenge exceeded the solver's time budget.
	ErrSolveTimeout = errors.New("challenge exceeded its time budget")
)

// Solver produces one token from one isolated browsing context.
type Solver interface {
	Solve(ctx context.Context, bctx browser.Context, req models.TokenRequest) (string, error)
}

// Options configure the reCAPTCHA v3 solve sequence.
type Options struct {
	SiteKey string
	// Action is the action name passed to grecaptcha.execute.
	Action string
	// URLTemplate builds the hosting page URL; one %s verb for the target ID.
	URLTemplate string
	// Timeout is the solver-internal budget. It is clamped to the caller's
	// deadline and never exceeds it.
	Timeout         time.Duration
	PageLoadTimeout time.Duration
	PollInterval    time.Duration
}

const (
	defaultAction       = "FLOW_GENERATION"
	defaultPageLoad     = 15 * time.Second
	defaultPollInterval = 300 * time.Millisecond
)

// grecaptchaReadyJS reports whether the reCAPTCHA script is loaded and
// executable on the page.
const grecaptchaReadyJS = `() => {
	return !!(window.grecaptcha && typeof window.grecaptcha.execute === 'function');
}`

// injectScriptJS appends the reCAPTCHA v3 api script when the hosting page
// did not load it on its own. Resolves true once the script loads.
const injectScriptJS = `(src) => {
	return new Promise((resolve) => {
		if (document.querySelector('script[src*="recaptcha/api.js"]')) {
			resolve(true);
			return;
		}
		const script = document.createElement('script');
		script.src = src;
		script.async = true;
		script.defer = true;
		script.onload = () => resolve(true);
		script.onerror = () => resolve(false);
		document.head.appendChild(script);
	});
}`

// executeJS runs grecaptcha.execute and resolves to the token string, or
// null when execution fails.
const executeJS = `async ([siteKey, action]) => {
	try {
		if (!window.grecaptcha || typeof window.grecaptcha.execute !== 'function') {
			return null;
		}
		await new Promise((resolve) => {
			if (window.grecaptcha.ready) {
				window.grecaptcha.ready(resolve);
			} else {
				resolve();
			}
		});
		return await window.grecaptcha.execute(siteKey, { action: action });
	} catch (err) {
		return null;
	}
}`

// Recaptcha drives one browsing context through the reCAPTCHA v3
// navigate/inject/execute sequence. It never retries; retry policy belongs
// to the orchestrator. The context is never reused across calls.
type Recaptcha struct {
	opts Options
}

// New creates a solver with defaults applied for anything unset.
func New(opts Options) *Recaptcha {
	if opts.Action == "" {
		opts.Action = defaultAction
	}
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = defaultPageLoad
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Recaptcha{opts: opts}
}

// Solve opens a page in bctx, loads the hosting page for the request's
// target, and executes the challenge. The page is closed before returning;
// closing the context itself is the caller's job.
func (r *Recaptcha) Solve(ctx context.Context, bctx browser.Context, req models.TokenRequest) (string, error) {
	budget := r.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); budget <= 0 || remaining < budget {
			budget = remaining
		}
	}
	if budget <= 0 {
		return "", ErrSolveTimeout
	}
	solveCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	page, err := bctx.NewPage()
	if err != nil {
		return "", fmt.Errorf("%w: open page: %v", ErrSolveFailed, err)
	}
	defer page.Close()

	target := fmt.Sprintf(r.opts.URLTemplate, req.TargetID)
	if err := page.Goto(target, r.opts.PageLoadTimeout); err != nil {
		// A slow or broken page load is tolerated; the challenge script can
		// still be injected into whatever did load.
		log.Printf("solver: navigation to %s did not finish cleanly: %v", target, err)
	}
	if solveCtx.Err() != nil {
		return "", ErrSolveTimeout
	}

	if err := r.ensureScript(solveCtx, page); err != nil {
		return "", err
	}

	type evalResult struct {
		value interface{}
		err   error
	}
	done := make(chan evalResult, 1)
	go func() {
		v, err := page.Evaluate(executeJS, []interface{}{r.opts.SiteKey, r.opts.Action})
		done <- evalResult{value: v, err: err}
	}()

	select {
	case <-solveCtx.Done():
		return "", ErrSolveTimeout
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("%w: execute: %v", ErrSolveFailed, res.err)
		}
		token, ok := res.value.(string)
		if !ok || token == "" {
			return "", ErrSolveFailed
		}
		return token, nil
	}
}

// ensureScript makes sure grecaptcha is loaded and executable, injecting the
// api script when the hosting page did not bring it along.
func (r *Recaptcha) ensureScript(ctx context.Context, page browser.Page) error {
	if ready, err := r.isReady(page); err == nil && ready {
		return nil
	}

	scriptURL := fmt.Sprintf("https://www.google.com/recaptcha/api.js?render=%s", r.opts.SiteKey)
	if _, err := page.Evaluate(injectScriptJS, scriptURL); err != nil {
		return fmt.Errorf("%w: inject script: %v", ErrSolveFailed, err)
	}

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ErrSolveTimeout
		case <-ticker.C:
			if ready, err := r.isReady(page); err == nil && ready {
				return nil
			}
		}
	}
}

func (r *Recaptcha) isReady(page browser.Page) (bool, error) {
	v, err := page.Evaluate(grecaptchaReadyJS)
	if err != nil {
		return false, err
	}
	ready, _ := v.(bool)
	return ready, nil
}
