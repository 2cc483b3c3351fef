package task

import (
	"time"
	"unsafe"

	"github.com/coProCyon/nos/internal/kerr"
	"github.com/coProCyon/nos/internal/kstack"
	"github.com/coProCyon/nos/internal/trust"
)

// Start prepares a stack, registers the task in the task table, and
// synthesizes a register frame so that the task's first context switch
// resumes into execTrampoline(t), which calls fn(ctx). A second call on
// the same task is an expected failure (kerr.AlreadyStarted), not a
// contract violation: callers can check for it instead of triggering a
// halt. On any expected failure (pid exhaustion, no legal placement) it
// rolls back everything it did and returns a non-nil error, leaving the
// task exactly as Construct left it.
func (t *Task) Start(sched *Scheduler, fn Func, ctx unsafe.Pointer) error {
	if t.stack != nil || t.function != nil {
		return kerr.New(kerr.AlreadyStarted)
	}

	s := kstack.New(unsafe.Pointer(t))
	t.stack = s

	if err := sched.table.Insert(t); err != nil {
		t.stack = nil
		return err
	}

	t.function = fn
	t.ctx = ctx
	t.sched = sched
	t.rsp = synthesizeFrame(s, t)

	t.mu.Lock()
	t.startTime = sched.Now()
	t.mu.Unlock()
	t.state.Store(Waiting)

	q := SelectQueue(t.GetCpuAffinity(), sched.RunningCPUs(), sched.queues, nil)
	if q == nil {
		sched.table.Remove(t)
		t.stack = nil
		t.function = nil
		t.ctx = nil
		t.sched = nil
		t.rsp = 0
		t.mu.Lock()
		t.startTime = 0
		t.mu.Unlock()
		return kerr.New(kerr.NoPlacement)
	}

	go func() {
		<-t.resume
		execTrampoline(t)
	}()

	q.Insert(t)
	return nil
}

// Run executes fn(ctx) directly on the calling goroutine, as the
// current task on queue q, without ever performing a context switch.
// It is the mechanism by which a CPU's boot (or AP-bringup) stack is
// converted into task #0 for that CPU: there is no separate task
// goroutine to hand off to, because the caller already *is* the
// execution context.
func (t *Task) Run(sched *Scheduler, q *Queue, fn Func, ctx unsafe.Pointer) error {
	if err := sched.table.Insert(t); err != nil {
		return err
	}
	t.sched = sched
	q.Insert(t)

	now := sched.Now()
	t.mu.Lock()
	t.startTime = now
	t.runStartTime = now
	t.mu.Unlock()
	t.state.Store(Running)

	fn(ctx)

	now = sched.Now()
	t.mu.Lock()
	t.runtime += now - t.runStartTime
	t.mu.Unlock()

	q.Remove(t)
	sched.table.Remove(t)
	return nil
}

// Wait busy-polls state with ~1ms slices until Exited is observed. It
// is meant for joining in a self-test, not as a general
// synchronization primitive.
func (t *Task) Wait() {
	for t.State() != Exited {
		time.Sleep(time.Millisecond)
	}
}

// Schedule voluntarily yields the CPU: it is a suspension point. Only
// the CPU's current task may call it.
func (t *Task) Schedule() {
	if t.sched == nil {
		trust.Fatalf("task: Schedule called on pid %d before it was ever started", t.pid)
	}
	t.sched.yield(t)
}

// Sleep yields repeatedly until at least d has elapsed on the
// scheduler's monotonic boot clock.
func (t *Task) Sleep(d time.Duration) {
	deadline := t.sched.Now() + d
	for t.sched.Now() < deadline {
		t.Schedule()
	}
}

// Exit may only be called by the current task. It marks the task
// Exited, records exit_time, drops the task table's reference, and
// parks the task for good: parkForever never returns, and a resume of
// the exited task is fatal.
func (t *Task) Exit() {
	if t.sched == nil {
		trust.Fatalf("task: Exit called on pid %d before it was ever started", t.pid)
	}
	t.mu.Lock()
	t.exitTime = t.sched.Now()
	t.mu.Unlock()
	t.state.Store(Exited)
	t.sched.table.Remove(t)
	t.sched.parkForever(t)
}
