package scheduler

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestNewJob_DefaultName(t *testing.T) {
	j := NewJob("", nil)
	if !strings.HasPrefix(j.Name(), "job-") {
		t.Errorf("Name() = %q, want job-<id> prefix", j.Name())
	}
	named := NewJob("render", nil)
	if named.String() != "render" {
		t.Errorf("String() = %q, want render", named.String())
	}
	if named.ID() <= j.ID() {
		t.Errorf("ids not increasing: %d then %d", j.ID(), named.ID())
	}
	if _, ok := j.Worker(); ok {
		t.Error("unassigned job reports a worker")
	}
}

func TestJob_ScheduleLinksChild(t *testing.T) {
	parent, child := NewJob("parent", nil), NewJob("child", nil)
	if err := parent.Schedule(child); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if child.Parent() != parent {
		t.Errorf("child.Parent() = %v, want parent", child.Parent())
	}
	kids := parent.Children()
	if len(kids) != 1 || kids[0] != child {
		t.Errorf("Children() = %v, want [child]", kids)
	}

	// The snapshot is a copy.
	kids[0] = nil
	if parent.Children()[0] != child {
		t.Error("Children() returned the internal slice")
	}
}

func TestJob_ScheduleErrors(t *testing.T) {
	a, b, c := NewJob("a", nil), NewJob("b", nil), NewJob("c", nil)
	if err := a.Schedule(b); err != nil {
		t.Fatalf("a.Schedule(b): %v", err)
	}
	if err := b.Schedule(c); err != nil {
		t.Fatalf("b.Schedule(c): %v", err)
	}

	tests := []struct {
		name   string
		parent *Job
		child  *Job
		want   error
	}{
		{"self", a, a, ErrSelfSchedule},
		{"nil child", a, nil, ErrNilJob},
		{"already linked", c, b, ErrAlreadyLinked},
		{"ancestor", c, a, ErrCycle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.parent.Schedule(tt.child); !errors.Is(err, tt.want) {
				t.Errorf("Schedule() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestJob_Erase(t *testing.T) {
	parent, child, stranger := NewJob("parent", nil), NewJob("child", nil), NewJob("stranger", nil)
	if err := parent.Schedule(child); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if err := parent.Erase(stranger); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Erase(stranger) = %v, want ErrJobNotFound", err)
	}
	if err := parent.Erase(parent); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Erase(self) = %v, want ErrJobNotFound", err)
	}
	if err := parent.Erase(child); err != nil {
		t.Fatalf("Erase(child): %v", err)
	}
	if child.Parent() != nil {
		t.Error("erased child still references its parent")
	}
	if len(parent.Children()) != 0 {
		t.Error("erased child still listed")
	}

	// An unlinked job can be scheduled again.
	if err := stranger.Schedule(child); err != nil {
		t.Errorf("reschedule after erase: %v", err)
	}
}

func TestJob_Exit(t *testing.T) {
	j := NewJob("j", nil)
	if j.Exited() {
		t.Fatal("new job reports exited")
	}
	j.Exit(3)
	if !j.Exited() || j.ExitCode() != 3 {
		t.Errorf("Exited()=%v ExitCode()=%d, want true 3", j.Exited(), j.ExitCode())
	}
}

func TestJob_ConcurrentScheduleUnderOneParent(t *testing.T) {
	const k, m = 16, 200
	parent := NewJob("parent", nil)

	var wg sync.WaitGroup
	for range k {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range m {
				if err := parent.Schedule(NewJob("", nil)); err != nil {
					t.Errorf("Schedule: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	kids := parent.Children()
	if len(kids) != k*m {
		t.Fatalf("children = %d, want %d", len(kids), k*m)
	}
	seen := make(map[uint64]bool, len(kids))
	for _, c := range kids {
		if seen[c.ID()] {
			t.Fatalf("child %d recorded twice", c.ID())
		}
		seen[c.ID()] = true
		if c.Parent() != parent {
			t.Fatalf("child %d has parent %v", c.ID(), c.Parent())
		}
	}
}

func TestJob_ConcurrentMutualScheduling(t *testing.T) {
	for range 500 {
		a, b := NewJob("a", nil), NewJob("b", nil)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() { defer wg.Done(); errs[0] = a.Schedule(b) }()
		go func() { defer wg.Done(); errs[1] = b.Schedule(a) }()
		wg.Wait()

		ok := 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrCycle):
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if ok != 1 {
			t.Fatalf("%d of 2 mutual schedules succeeded, want exactly 1 (errs=%v)", ok, errs)
		}
	}
}
