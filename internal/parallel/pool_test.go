package parallel

import (
	"sync/atomic"
	"testing"
)

func TestWorkerPool_ExecuteAll_RunsEverything(t *testing.T) {
	p := NewWorkerPool(4)
	defer p.Close()

	var counter atomic.Int64
	work := make([]func(), 200)
	for i := range work {
		work[i] = func() { counter.Add(1) }
	}
	p.ExecuteAll(work)

	if got := counter.Load(); got != 200 {
		t.Fatalf("counter = %d, want 200", got)
	}
}

func TestWorkerPool_ExecuteAll_Empty(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Close()
	p.ExecuteAll(nil) // must not block or panic
}

func TestWorkerPool_CloseIdempotent(t *testing.T) {
	p := NewWorkerPool(2)
	p.Close()
	p.Close()
	if p.IsRunning() {
		t.Fatal("pool should report not running after Close")
	}
}

func TestWorkerPool_DefaultsToGOMAXPROCS(t *testing.T) {
	p := NewWorkerPool(0)
	defer p.Close()
	if p.Workers() <= 0 {
		t.Fatalf("workers = %d, want > 0", p.Workers())
	}
}
