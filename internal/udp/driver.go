package udp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/postalsys/confirmd/internal/recovery"
)

// Driver is the execution context shared by every Socket of a Listener.
// All receive loops and confirmation sends run as goroutines started by
// the Driver, so stopping it and waiting on it drains every pending
// completion at once.
type Driver struct {
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// NewDriver creates a running Driver.
func NewDriver(logger *slog.Logger) *Driver {
	d := &Driver{logger: logger}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Context returns the context of the current run. It is replaced on Reset.
func (d *Driver) Context() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.ctx
}

// Go runs fn on a new goroutine tracked by the Driver.
// It returns false without running fn if the Driver is stopped.
func (d *Driver) Go(name string, fn func(ctx context.Context)) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	ctx := d.ctx
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer recovery.RecoverWithLog(d.logger, name)
		fn(ctx)
	}()
	return true
}

// Stop cancels the current run and refuses new goroutines until Reset.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.cancel()
}

// Stopped reports whether the Driver refuses new work.
func (d *Driver) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.stopped
}

// Wait blocks until every goroutine started by Go has returned.
// Call it after Stop; waiting on a running Driver may never return.
func (d *Driver) Wait() {
	d.wg.Wait()
}

// Reset makes a stopped and drained Driver usable again with a fresh
// context. It is a no-op on a running Driver.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.stopped {
		return
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.stopped = false
}
