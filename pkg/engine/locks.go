package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// handle tracks a run that holds its domain. mu is held by whoever drives
// the run: the streaming goroutine, a decision or a gated cancel.
type handle struct {
	runID    string
	domainID string

	mu        sync.Mutex
	cancelled atomic.Bool
	decided   atomic.Bool
	done      chan struct{}

	cmu      sync.Mutex
	cancelFn context.CancelFunc
}

func newHandle(runID, domainID string) *handle {
	return &handle{runID: runID, domainID: domainID, done: make(chan struct{})}
}

func (h *handle) setCancel(cancel context.CancelFunc) {
	h.cmu.Lock()
	defer h.cmu.Unlock()

	h.cancelFn = cancel

	if h.cancelled.Load() {
		cancel()
	}
}

// requestCancel flags the run and aborts whatever it is waiting on.
func (h *handle) requestCancel() {
	h.cancelled.Store(true)

	h.cmu.Lock()
	defer h.cmu.Unlock()

	if h.cancelFn != nil {
		h.cancelFn()
	}
}

// acquire reserves domainID for h. Cross-domain runs use models.AllDomains
// as their own key.
func (e *Engine) acquire(h *handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrEngineStopped
	}

	if holder, busy := e.domains[h.domainID]; busy {
		return &BusyError{DomainID: h.domainID, RunID: holder}
	}

	e.domains[h.domainID] = h.runID
	e.handles[h.runID] = h

	return nil
}

func (e *Engine) release(h *handle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.domains[h.domainID] == h.runID {
		delete(e.domains, h.domainID)
	}

	delete(e.handles, h.runID)
}

func (e *Engine) handle(runID string) *handle {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.handles[runID]
}

// BusyError names the run holding a domain.
type BusyError struct {
	DomainID string
	RunID    string
}

func (e *BusyError) Error() string {
	return "domain " + e.DomainID + " is busy with run " + e.RunID
}

func (e *BusyError) Is(target error) bool {
	return target == ErrDomainBusy
}
