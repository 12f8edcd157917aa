package models

import "time"

// ErrorKind classifies why a token issuance attempt failed.
type ErrorKind string

const (
	ErrorAdmissionTimeout   ErrorKind = "ADMISSION_TIMEOUT"
	ErrorBrowserUnavailable ErrorKind = "BROWSER_UNAVAILABLE"
	ErrorSolveFailed        ErrorKind = "SOLVE_FAILED"
	ErrorSolveTimeout       ErrorKind = "SOLVE_TIMEOUT"
	ErrorProviderFailed     ErrorKind = "PROVIDER_FAILED"
)

// TokenRequest is one caller's request for a reCAPTCHA token
type TokenRequest struct {
	TargetID   string    `json:"targetId"`
	TimeoutMs  int       `json:"timeoutMs,omitempty"`
	ReceivedAt time.Time `json:"-"`
}

// TokenResult is the outcome of one issuance attempt. Token is set iff
// Success is true; Error is set iff Success is false.
type TokenResult struct {
	Success    bool      `json:"success"`
	Token      string    `json:"token,omitempty"`
	DurationMs float64   `json:"duration_ms"`
	Error      ErrorKind `json:"error,omitempty"`
}
