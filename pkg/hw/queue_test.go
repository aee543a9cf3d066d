package hw

import "testing"

func TestQueueOrdering(t *testing.T) {
	q := NewQueue()
	var got []int
	q.Push(3.0, func() error { got = append(got, 3); return nil })
	q.Push(1.0, func() error { got = append(got, 1); return nil })
	q.Push(2.0, func() error { got = append(got, 2); return nil })

	for _, apply := range q.PopDue(10.0) {
		if err := apply(); err != nil {
			t.Fatal(err)
		}
	}
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
}

func TestQueueFIFOAtSameTime(t *testing.T) {
	q := NewQueue()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		q.Push(1.0, func() error { got = append(got, i); return nil })
	}
	for _, apply := range q.PopDue(1.0) {
		_ = apply()
	}
	for i := 0; i < 5; i++ {
		if got[i] != i {
			t.Fatalf("same-time commands ran out of order: %v", got)
		}
	}
}

func TestQueuePopDueLeavesFuture(t *testing.T) {
	q := NewQueue()
	q.Push(1.0, func() error { return nil })
	q.Push(5.0, func() error { return nil })

	if n := len(q.PopDue(2.0)); n != 1 {
		t.Fatalf("PopDue(2.0) returned %d commands, want 1", n)
	}
	next, ok := q.NextTime()
	if !ok || next != 5.0 {
		t.Fatalf("NextTime = %v, %v; want 5.0, true", next, ok)
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
}
