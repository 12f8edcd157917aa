package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrAdmissionTimeout is returned when the gate stays saturated past the
// caller's deadline, or the caller gives up while waiting.
var ErrAdmissionTimeout = errors.New("admission gate saturated")

// Gate bounds the number of concurrent in-flight solve operations with a
// fixed-size counting semaphore. Waiters are admitted first-blocked,
// first-admitted.
type Gate struct {
	sem      *semaphore.Weighted
	limit    int64
	inFlight atomic.Int64
}

// Ticket is one held capacity slot. It must be released when the solve
// operation it admitted completes, on every exit path.
type Ticket struct {
	gate *Gate
	once sync.Once
}

// NewGate creates a gate admitting at most limit concurrent operations
func NewGate(limit int64) *Gate {
	return &Gate{
		sem:   semaphore.NewWeighted(limit),
		limit: limit,
	}
}

// Admit blocks until a slot frees or ctx expires. A wait abandoned through
// cancellation or deadline never consumes a slot.
func (g *Gate) Admit(ctx context.Context) (*Ticket, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdmissionTimeout, err)
	}
	g.inFlight.Add(1)
	return &Ticket{gate: g}, nil
}

// Release returns the ticket's slot to the gate. Calling it more than once
// is safe; the slot is released exactly once.
func (t *Ticket) Release() {
	t.once.Do(func() {
		t.gate.inFlight.Add(-1)
		t.gate.sem.Release(1)
	})
}

// InFlight returns the number of currently admitted operations
func (g *Gate) InFlight() int64 {
	return g.inFlight.Load()
}

// Limit returns the configured concurrency limit
func (g *Gate) Limit() int64 {
	return g.limit
}
