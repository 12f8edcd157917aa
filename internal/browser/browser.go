package browser

import "time"

// Instance is a live browser process handle. At most one Instance is
// authoritative at a time; it is owned and replaced only by the Supervisor.
type Instance interface {
	// NewContext creates an isolated browsing context with its own cookies,
	// storage and history.
	NewContext() (Context, error)
	// Connected reports whether the underlying process is still reachable.
	Connected() bool
	Close() error
}

// Context is a sandboxed browsing context. It is owned by a single request
// and must be closed when that request's solve attempt completes, on every
// exit path.
type Context interface {
	NewPage() (Page, error)
	Close() error
}

// Page is the subset of page operations the challenge solver needs.
type Page interface {
	Goto(url string, timeout time.Duration) error
	Evaluate(script string, args ...interface{}) (interface{}, error)
	Close() error
}
