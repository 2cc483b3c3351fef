package task

import "testing"

func TestSelectQueueNoLegalCpu(t *testing.T) {
	queues := []*Queue{NewQueue(0), NewQueue(1)}
	// affinity restricted to cpu 2, which doesn't exist in runningCPUs.
	got := SelectQueue(1<<2, 0b11, queues, nil)
	if got != nil {
		t.Fatalf("expected no legal placement, got queue %d", got.ID())
	}
}

func TestSelectQueuePrefersLeastPressured(t *testing.T) {
	q0, q1, q2 := NewQueue(0), NewQueue(1), NewQueue(2)
	queues := []*Queue{q0, q1, q2}

	// Manufacture pressure: q0 has 5 switches, q1 has 1, q2 has 3.
	for i := 0; i < 5; i++ {
		q0.Insert(Construct("x"))
		q0.PickNext()
	}
	for i := 0; i < 1; i++ {
		q1.Insert(Construct("x"))
		q1.PickNext()
	}
	for i := 0; i < 3; i++ {
		q2.Insert(Construct("x"))
		q2.PickNext()
	}

	got := SelectQueue(AllCPUs, 0b111, queues, nil)
	if got != q1 {
		t.Fatalf("expected the least-pressured queue (q1), got %d", got.ID())
	}
}

func TestSelectQueueSkipsCurrentToFavorMigration(t *testing.T) {
	q0, q1 := NewQueue(0), NewQueue(1)
	queues := []*Queue{q0, q1}
	// q0 (current) has fewer switches than q1, but since it is
	// "current" it should be skipped in favor of q1.
	for i := 0; i < 2; i++ {
		q1.Insert(Construct("x"))
		q1.PickNext()
	}
	got := SelectQueue(AllCPUs, 0b11, queues, q0)
	if got != q1 {
		t.Fatalf("expected migration away from current queue, got %d", got.ID())
	}
}

func TestSelectQueueFallsBackToCurrentWhenOnlyCandidate(t *testing.T) {
	q0 := NewQueue(0)
	queues := []*Queue{q0}
	// Single-CPU system: q0 is both the only legal queue and the
	// "current" one. This must still succeed rather than report "none".
	got := SelectQueue(AllCPUs, 0b1, queues, q0)
	if got != q0 {
		t.Fatalf("expected fallback to the sole queue, got %v", got)
	}
}
