package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// State is the supervisor's view of the browser process lifecycle.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateStarting      State = "STARTING"
	StateReady         State = "READY"
	StateCrashed       State = "CRASHED"
	StateRestarting    State = "RESTARTING"
)

// Status is the externally visible health of the supervisor.
type Status string

const (
	StatusReady     Status = "READY"
	StatusUnhealthy Status = "UNHEALTHY"
)

// ErrUnavailable is returned when no healthy browser could be produced
// within the bounded restart budget. It is fatal for that acquisition only;
// the next acquisition retries.
var ErrUnavailable = errors.New("browser instance unavailable")

// LaunchFunc starts a new browser process.
type LaunchFunc func() (Instance, error)

// SupervisorOptions tune crash detection and restart behavior.
type SupervisorOptions struct {
	// CrashThreshold failure reports within CrashWindow mark the live
	// instance as crashed.
	CrashThreshold int
	CrashWindow    time.Duration
	// MaxAttempts bounds launch attempts per acquisition; Backoff is the
	// initial wait between attempts and doubles each retry.
	MaxAttempts int
	Backoff     time.Duration
}

func (o *SupervisorOptions) applyDefaults() {
	if o.CrashThreshold <= 0 {
		o.CrashThreshold = 3
	}
	if o.CrashWindow <= 0 {
		o.CrashWindow = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
}

// Supervisor owns the single browser process shared by all solve operations.
// The process is launched lazily on first acquisition and replaced wholesale
// when it crashes; callers never hold a reference that outlives a restart,
// they re-derive access through AcquireContext.
type Supervisor struct {
	launch LaunchFunc
	opts   SupervisorOptions

	// mu serialises launches and instance swaps; at most one restart is in
	// flight at a time.
	mu       sync.Mutex
	instance Instance
	launched time.Time

	state atomic.Value // State, readable without taking mu

	failMu   sync.Mutex
	failures []time.Time
}

// NewSupervisor creates a supervisor around launch. A nil launch func makes
// every acquisition fail with ErrUnavailable (local solving disabled).
func NewSupervisor(launch LaunchFunc, opts SupervisorOptions) *Supervisor {
	opts.applyDefaults()
	s := &Supervisor{
		launch: launch,
		opts:   opts,
	}
	s.state.Store(StateUninitialized)
	return s
}

// AcquireContext returns a fresh isolated context from the live browser,
// launching or restarting the process first when needed. Concurrent callers
// arriving during a restart wait for it rather than starting another.
func (s *Supervisor) AcquireContext(ctx context.Context) (Context, error) {
	if s.launch == nil {
		return nil, fmt.Errorf("%w: no launcher configured", ErrUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Two passes: an instance that looks healthy but fails context creation
	// gets one synchronous restart before this acquisition gives up.
	for pass := 0; pass < 2; pass++ {
		if s.CurrentState() != StateReady || s.instance == nil || !s.instance.Connected() {
			if err := s.relaunchLocked(ctx); err != nil {
				return nil, err
			}
		}

		cctx, err := s.instance.NewContext()
		if err == nil {
			return cctx, nil
		}
		log.Printf("browser: context creation failed, marking instance crashed: %v", err)
		s.state.Store(StateCrashed)
	}

	return nil, ErrUnavailable
}

// relaunchLocked discards the current instance and launches a new one with
// bounded retries and doubling backoff. Callers must hold mu.
func (s *Supervisor) relaunchLocked(ctx context.Context) error {
	if s.CurrentState() == StateUninitialized {
		s.state.Store(StateStarting)
	} else {
		s.state.Store(StateRestarting)
	}

	if s.instance != nil {
		if err := s.instance.Close(); err != nil {
			log.Printf("browser: closing crashed instance: %v", err)
		}
		s.instance = nil
	}

	backoff := s.opts.Backoff
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				s.state.Store(StateCrashed)
				return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		inst, err := s.launch()
		if err != nil {
			log.Printf("browser: launch attempt %d/%d failed: %v", attempt, s.opts.MaxAttempts, err)
			continue
		}

		s.instance = inst
		s.launched = time.Now()
		s.state.Store(StateReady)
		s.resetFailures()
		log.Printf("browser: instance ready (attempt %d/%d)", attempt, s.opts.MaxAttempts)
		return nil
	}

	s.state.Store(StateCrashed)
	return fmt.Errorf("%w: %d launch attempts failed", ErrUnavailable, s.opts.MaxAttempts)
}

// ReportFailure records a failed solve against the live instance. Enough
// reports inside the crash window, or a dead process, flip the supervisor to
// Crashed so the next acquisition restarts the browser. Reports arriving
// while a restart is already in flight are ignored; they must not stack a
// second restart.
func (s *Supervisor) ReportFailure() {
	crossed := s.recordFailure()

	if !s.mu.TryLock() {
		// A launch or restart holds the lock; this report is stale.
		return
	}
	defer s.mu.Unlock()

	if s.CurrentState() != StateReady {
		return
	}
	if crossed || (s.instance != nil && !s.instance.Connected()) {
		log.Printf("browser: crash detected (threshold=%v, connected=%v)", crossed, s.instance != nil && s.instance.Connected())
		s.state.Store(StateCrashed)
		s.resetFailures()
	}
}

// recordFailure appends a failure timestamp, prunes entries outside the
// window, and reports whether the threshold is crossed.
func (s *Supervisor) recordFailure() bool {
	s.failMu.Lock()
	defer s.failMu.Unlock()

	now := time.Now()
	cutoff := now.Add(-s.opts.CrashWindow)
	kept := s.failures[:0]
	for _, t := range s.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.failures = append(kept, now)
	return len(s.failures) >= s.opts.CrashThreshold
}

func (s *Supervisor) resetFailures() {
	s.failMu.Lock()
	s.failures = nil
	s.failMu.Unlock()
}

// CurrentState returns the lifecycle state without blocking on an in-flight
// restart.
func (s *Supervisor) CurrentState() State {
	return s.state.Load().(State)
}

// Health reports the externally visible liveness state. Only a crashed
// instance whose restart budget was exhausted reads as unhealthy, and even
// that is informational: the next acquisition retries the launch.
func (s *Supervisor) Health() Status {
	if s.CurrentState() == StateCrashed {
		return StatusUnhealthy
	}
	return StatusReady
}

// Shutdown closes the live instance, if any. The supervisor returns to
// Uninitialized and would lazily relaunch on a later acquisition.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.instance != nil {
		if err := s.instance.Close(); err != nil {
			log.Printf("browser: shutdown close failed: %v", err)
		}
		s.instance = nil
	}
	s.state.Store(StateUninitialized)
	s.resetFailures()
}
