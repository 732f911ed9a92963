package write

import (
	"io"
	"log/slog"
	"sync"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCoordinator_AppliesInOrder(t *testing.T) {
	c := NewCoordinator(newTestLogger())
	var got []int
	for i := range 5 {
		c.Enqueue(func() { got = append(got, i) })
	}
	if c.Pending() != 5 {
		t.Fatalf("Pending() = %d, want 5", c.Pending())
	}

	c.Execute()

	if c.Pending() != 0 {
		t.Errorf("Pending() after Execute = %d, want 0", c.Pending())
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("applied order = %v, want 0..4", got)
		}
	}
	if c.Applied() != 5 {
		t.Errorf("Applied() = %d, want 5", c.Applied())
	}
}

func TestCoordinator_EnqueueDuringApplyWaitsForNextBatch(t *testing.T) {
	c := NewCoordinator(newTestLogger())
	ran := 0
	c.Enqueue(func() {
		ran++
		c.Enqueue(func() { ran++ })
	})

	c.Execute()
	if ran != 1 {
		t.Fatalf("after first Execute ran = %d, want 1", ran)
	}
	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", c.Pending())
	}

	c.Execute()
	if ran != 2 {
		t.Errorf("after second Execute ran = %d, want 2", ran)
	}
}

func TestCoordinator_PanickingMutationDoesNotAbortBatch(t *testing.T) {
	c := NewCoordinator(newTestLogger())
	after := false
	c.Enqueue(func() { panic("boom") })
	c.Enqueue(func() { after = true })

	c.Execute()

	if !after {
		t.Error("mutation after the panic did not run")
	}
	if c.Failures() != 1 || c.Applied() != 1 {
		t.Errorf("Failures()=%d Applied()=%d, want 1 1", c.Failures(), c.Applied())
	}
}

func TestCoordinator_NilMutationIgnored(t *testing.T) {
	c := NewCoordinator(newTestLogger())
	c.Enqueue(nil)
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
	c.Execute()
}

func TestCoordinator_ConcurrentEnqueue(t *testing.T) {
	c := NewCoordinator(newTestLogger())
	counter := 0

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.Enqueue(func() { counter++ })
			}
		}()
	}
	wg.Wait()
	c.Execute()

	if counter != 800 {
		t.Errorf("counter = %d, want 800", counter)
	}
}

func TestCoordinator_DoExcludesBatch(t *testing.T) {
	c := NewCoordinator(newTestLogger())
	shared := 0
	c.Enqueue(func() { shared = 10 })

	done := make(chan struct{})
	c.Lock()
	go func() {
		c.Execute()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Execute applied the batch while the state lock was held")
	default:
	}
	if shared != 0 {
		t.Fatalf("shared = %d while locked, want 0", shared)
	}
	c.Unlock()
	<-done

	var seen int
	c.Do(func() { seen = shared })
	if seen != 10 {
		t.Errorf("Do observed %d, want 10", seen)
	}
}

func TestCoordinator_JobRunsCoordinator(t *testing.T) {
	c := NewCoordinator(newTestLogger())
	if c.Job().Name() != "write" {
		t.Errorf("Job().Name() = %q, want write", c.Job().Name())
	}
	ran := false
	c.Enqueue(func() { ran = true })
	c.Job().Body().Execute()
	if !ran {
		t.Error("job body did not apply the batch")
	}
}
