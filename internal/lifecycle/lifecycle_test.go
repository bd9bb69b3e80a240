package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShuttingDownFlag(t *testing.T) {
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Fatal("IsShuttingDown() = true, want false")
	}
	SetShuttingDown(true)
	defer SetShuttingDown(false)
	if !IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetShuttingDown(true)")
	}
}

func TestTracker_BeginDone(t *testing.T) {
	var tr Tracker
	done1 := tr.Begin()
	done2 := tr.Begin()
	if got := tr.Active(); got != 2 {
		t.Fatalf("Active() = %d, want 2", got)
	}
	done1()
	done1()
	if got := tr.Active(); got != 1 {
		t.Errorf("Active() = %d after repeated done, want 1", got)
	}
	done2()
	if got := tr.Active(); got != 0 {
		t.Errorf("Active() = %d, want 0", got)
	}
}

func TestTracker_WaitIdleReturnsWhenDone(t *testing.T) {
	var tr Tracker
	done := tr.Begin()
	go func() {
		time.Sleep(20 * time.Millisecond)
		done()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.WaitIdle(ctx, 5*time.Millisecond); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
}

func TestTracker_WaitIdleHonoursContext(t *testing.T) {
	var tr Tracker
	defer tr.Begin()()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := tr.WaitIdle(ctx, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitIdle() error = %v, want DeadlineExceeded", err)
	}
}
