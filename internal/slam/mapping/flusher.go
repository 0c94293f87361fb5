package mapping

import (
	"context"
	"sync"
	"time"
)

// Persister is implemented by types that can write their state to a
// SnapshotStore. Session implements it.
type Persister interface {
	Persist(store SnapshotStore, reason string) error
}

// Flusher periodically persists a Session to a SnapshotStore.
type Flusher struct {
	persister Persister
	store     SnapshotStore
	interval  time.Duration
	reason    string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// FlusherConfig configures a Flusher.
type FlusherConfig struct {
	// Persister is the state to flush, typically a *Session.
	Persister Persister
	// Store receives the snapshots.
	Store SnapshotStore
	// Interval between flushes. Run returns immediately when it is not positive.
	Interval time.Duration
	// Reason is recorded on periodic snapshots; defaults to "periodic_flush".
	Reason string
}

// NewFlusher creates a Flusher.
func NewFlusher(cfg FlusherConfig) *Flusher {
	reason := cfg.Reason
	if reason == "" {
		reason = "periodic_flush"
	}
	return &Flusher{
		persister: cfg.Persister,
		store:     cfg.Store,
		interval:  cfg.Interval,
		reason:    reason,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Run flushes every interval until ctx is cancelled or Stop is called, then
// writes a final snapshot. It returns nil on clean shutdown.
func (f *Flusher) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.mu.Unlock()

	defer func() {
		close(f.doneCh)
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	if f.interval <= 0 {
		logf("flusher: interval is %v, not starting", f.interval)
		return nil
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.flushAs("final_flush")
			return nil
		case <-f.stopCh:
			f.flushAs("final_flush")
			return nil
		case <-ticker.C:
			f.flushAs(f.reason)
		}
	}
}

// Stop asks Run to return and waits for it. Safe to call more than once.
func (f *Flusher) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	done := f.doneCh
	f.mu.Unlock()

	<-done
}

// IsRunning reports whether Run is active.
func (f *Flusher) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// FlushNow persists immediately with reason "manual".
func (f *Flusher) FlushNow() {
	f.flushAs("manual")
}

func (f *Flusher) flushAs(reason string) {
	if f.persister == nil || f.store == nil {
		return
	}
	if err := f.persister.Persist(f.store, reason); err != nil {
		logf("flusher: error persisting (%s): %v", reason, err)
	}
}
