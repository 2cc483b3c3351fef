package task

import (
	"testing"
	"time"
	"unsafe"
)

func TestStartRunsFunctionAndExits(t *testing.T) {
	sched := New(2, 64, false)
	sched.Boot()

	var ran bool
	done := make(chan struct{})
	tk := Construct("worker")
	err := tk.Start(sched, func(ctx unsafe.Pointer) {
		ran = true
		close(done)
	}, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task never ran")
	}
	tk.Wait()

	if !ran {
		t.Fatalf("function body never executed")
	}
	if tk.State() != Exited {
		t.Fatalf("expected Exited, got %v", tk.State())
	}
	if tk.Pid() != Invalid {
		t.Fatalf("pid should be Invalid after Exit, got %d", tk.Pid())
	}
	if tk.ContextSwitches() < 1 {
		t.Fatalf("expected at least one context switch, got %d", tk.ContextSwitches())
	}
}

func TestSleepObservesElapsedTime(t *testing.T) {
	sched := New(1, 64, false)
	sched.Boot()

	const slice = 30 * time.Millisecond
	start := time.Now()
	done := make(chan struct{})

	tk := Construct("sleeper")
	if err := tk.Start(sched, func(ctx unsafe.Pointer) {
		tk.Sleep(slice)
		close(done)
	}, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	<-done
	tk.Wait()
	if elapsed := time.Since(start); elapsed < slice {
		t.Fatalf("Sleep returned after only %v, wanted at least %v", elapsed, slice)
	}
}

func TestRefCountBalance(t *testing.T) {
	sched := New(1, 64, false)
	sched.Boot()

	done := make(chan struct{})
	tk := Construct("refcheck")
	if err := tk.Start(sched, func(ctx unsafe.Pointer) {
		close(done)
	}, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-done
	tk.Wait()

	if got := tk.refCounter.Load(); got != 1 {
		t.Fatalf("expected ref count 1 after Exit removed the table's reference, got %d", got)
	}
	tk.Put()
	if got := tk.refCounter.Load(); got != 0 {
		t.Fatalf("expected ref count 0 after the creator's Put, got %d", got)
	}
}

func TestStoppingBitIsAdvisory(t *testing.T) {
	tk := Construct("stoppable")
	if tk.IsStopping() {
		t.Fatalf("fresh task should not be stopping")
	}
	tk.SetStopping()
	if !tk.IsStopping() {
		t.Fatalf("expected stopping bit to be observed after SetStopping")
	}
}

func TestStartFailsOnPidExhaustion(t *testing.T) {
	// maxPids=1 is entirely consumed by cpu 0's idle task at New() time.
	sched := New(1, 1, false)

	tk := Construct("unlucky")
	err := tk.Start(sched, func(ctx unsafe.Pointer) {}, nil)
	if err == nil {
		t.Fatalf("expected Start to fail on pid exhaustion")
	}
	if tk.Stack() != nil {
		t.Fatalf("failed Start must leave the stack unallocated")
	}
	if tk.Pid() != Invalid {
		t.Fatalf("failed Start must leave pid Invalid, got %d", tk.Pid())
	}
	if got := tk.refCounter.Load(); got != 1 {
		t.Fatalf("failed Start must not change the ref count, got %d", got)
	}
}

func TestRunConvertsCallerIntoTask(t *testing.T) {
	// Run is how a CPU's own boot stack becomes task #0 for that CPU:
	// there is no separate task goroutine, the caller already is the
	// execution context, so fn runs synchronously on this goroutine.
	sched := New(1, 64, false)

	var ran bool
	var pidDuringRun int32
	q := sched.CPU(0).Queue()
	tk := Construct("boot/0")
	if err := tk.Run(sched, q, func(ctx unsafe.Pointer) {
		ran = true
		pidDuringRun = tk.Pid()
	}, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !ran {
		t.Fatalf("Run's function body never executed")
	}
	if pidDuringRun == Invalid {
		t.Fatalf("task should have had a valid pid while its body ran")
	}
	if tk.Pid() != Invalid {
		t.Fatalf("Run must remove the task from the table once fn returns, got pid %d", tk.Pid())
	}
	if tk.Runtime() <= 0 {
		t.Fatalf("expected positive runtime after Run, got %v", tk.Runtime())
	}
	if q.Len() != 0 {
		t.Fatalf("Run must remove the task from its queue once fn returns, queue has %d entries", q.Len())
	}
}

func TestGetCurrentTaskRecoversRunningTask(t *testing.T) {
	sched := New(1, 64, false)
	sched.Boot()

	result := make(chan *Task, 1)
	tk := Construct("introspector")
	if err := tk.Start(sched, func(ctx unsafe.Pointer) {
		got, err := sched.GetCurrentTask(0)
		if err != nil {
			result <- nil
			return
		}
		result <- got
	}, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	got := <-result
	if got != tk {
		t.Fatalf("GetCurrentTask returned %v, want the running task itself", got)
	}
	tk.Wait()
}
