package arena

import (
	"errors"
	"testing"
)

// TestUnboundedNeverFails verifies that an unbounded arena accepts any number
// of allocations and reservations while keeping its counters honest.
func TestUnboundedNeverFails(t *testing.T) {
	a := Unbounded()
	for i := 0; i < 1000; i++ {
		if err := a.Alloc(); err != nil {
			t.Fatalf("Alloc %d failed on unbounded arena: %v", i, err)
		}
	}
	if err := a.Reserve(1 << 20); err != nil {
		t.Fatalf("Reserve failed on unbounded arena: %v", err)
	}
	a.Release(1 << 20)

	st := a.Stats()
	if st.Allocs != 1000 || st.Live != 1000 || st.Peak != 1000 {
		t.Errorf("unexpected stats after 1000 allocs: %+v", st)
	}

	a.Free(1000)
	st = a.Stats()
	if st.Live != 0 || st.Frees != 1000 || st.Peak != 1000 {
		t.Errorf("unexpected stats after free: %+v", st)
	}
}

// TestBudgetRefusal verifies that a budgeted arena refuses the allocation
// that would exceed the budget, and recovers once nodes are freed.
func TestBudgetRefusal(t *testing.T) {
	a := WithBudget(3)
	for i := 0; i < 3; i++ {
		if err := a.Alloc(); err != nil {
			t.Fatalf("Alloc %d within budget failed: %v", i, err)
		}
	}
	if err := a.Alloc(); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("Alloc over budget: got %v, want ErrOutOfMemory", err)
	}

	a.Free(1)
	if err := a.Alloc(); err != nil {
		t.Errorf("Alloc after Free failed: %v", err)
	}
}

// TestReserveHoldsHeadroom verifies that reservations count against the
// budget, are consumed by Alloc, and can be handed back via Release.
func TestReserveHoldsHeadroom(t *testing.T) {
	a := WithBudget(4)
	if err := a.Alloc(); err != nil {
		t.Fatalf("first Alloc: %v", err)
	}

	if err := a.Reserve(3); err != nil {
		t.Fatalf("Reserve within budget: %v", err)
	}
	// Budget is fully committed: 1 live + 3 reserved.
	if err := a.Reserve(1); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("Reserve over budget: got %v, want ErrOutOfMemory", err)
	}

	// Two allocations draw from the reservation, not the budget.
	if err := a.Alloc(); err != nil {
		t.Errorf("reserved Alloc 1: %v", err)
	}
	if err := a.Alloc(); err != nil {
		t.Errorf("reserved Alloc 2: %v", err)
	}

	// One reservation unused; hand it back and the budget frees up.
	a.Release(1)
	if err := a.Alloc(); err != nil {
		t.Errorf("Alloc after Release: %v", err)
	}
	if err := a.Alloc(); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("Alloc past budget: got %v, want ErrOutOfMemory", err)
	}

	st := a.Stats()
	if st.Live != 4 || st.Allocs != 4 {
		t.Errorf("unexpected stats: %+v", st)
	}
}
