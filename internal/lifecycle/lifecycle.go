package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the process-wide draining flag. Set on SIGTERM/SIGINT
// before the scheduler and HTTP server are stopped.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining. Health returns 503
// and manual runs are refused while true.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Tracker counts work in progress (HTTP requests and chart runs) so shutdown
// can wait for it before closing the reading store and brokers.
type Tracker struct {
	active atomic.Int64
}

// Begin marks one unit of work as started. The returned func marks it done;
// calling it more than once has no further effect.
func (t *Tracker) Begin() (done func()) {
	t.active.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { t.active.Add(-1) })
	}
}

// Active returns the number of units of work in progress.
func (t *Tracker) Active() int64 {
	return t.active.Load()
}

// WaitIdle blocks until no work is in progress or ctx is done.
func (t *Tracker) WaitIdle(ctx context.Context, checkInterval time.Duration) error {
	if checkInterval <= 0 {
		checkInterval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		if t.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
