package udp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/postalsys/confirmd/internal/logging"
)

func TestDriver_GoRunsAndWaits(t *testing.T) {
	d := NewDriver(logging.NopLogger())

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		if !d.Go("test", func(ctx context.Context) { ran.Add(1) }) {
			t.Fatal("Go() on running driver returned false")
		}
	}

	d.Stop()
	d.Wait()

	if ran.Load() != 10 {
		t.Errorf("ran = %d, want 10", ran.Load())
	}
}

func TestDriver_StopCancelsContext(t *testing.T) {
	d := NewDriver(logging.NopLogger())

	started := make(chan struct{})
	d.Go("blocked", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	<-started

	done := make(chan struct{})
	go func() {
		d.Stop()
		d.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("Stop/Wait did not drain a goroutine blocked on ctx")
	}

	if !d.Stopped() {
		t.Error("Stopped() = false after Stop")
	}
	if d.Context().Err() == nil {
		t.Error("context should be cancelled after Stop")
	}
}

func TestDriver_GoAfterStop(t *testing.T) {
	d := NewDriver(logging.NopLogger())
	d.Stop()

	if d.Go("late", func(ctx context.Context) { t.Error("fn ran on stopped driver") }) {
		t.Error("Go() on stopped driver returned true")
	}
	d.Wait()
}

func TestDriver_Reset(t *testing.T) {
	d := NewDriver(logging.NopLogger())

	running := d.Context()
	d.Reset()
	if d.Context() != running {
		t.Error("Reset on a running driver should keep its context")
	}

	d.Stop()
	d.Wait()
	d.Reset()

	if d.Stopped() {
		t.Error("Stopped() = true after Reset")
	}
	if d.Context().Err() != nil {
		t.Error("context after Reset should be live")
	}

	ran := make(chan struct{})
	if !d.Go("after-reset", func(ctx context.Context) { close(ran) }) {
		t.Fatal("Go() after Reset returned false")
	}
	select {
	case <-ran:
	case <-time.After(testTimeout):
		t.Fatal("fn did not run after Reset")
	}

	d.Stop()
	d.Wait()
}

func TestDriver_RecoversPanic(t *testing.T) {
	d := NewDriver(logging.NopLogger())

	d.Go("panics", func(ctx context.Context) { panic("boom") })

	var ran atomic.Bool
	d.Go("after", func(ctx context.Context) { ran.Store(true) })

	d.Stop()
	d.Wait()

	if !ran.Load() {
		t.Error("driver should keep working after a panic")
	}
}
