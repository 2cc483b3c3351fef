// Package task implements a schedulable execution context: the Task
// object itself, its owning run-queue, the task table, the placement
// policy, and the per-CPU scheduler that switches between them. These
// pieces are kept in one package, the way a kernel commonly keeps its
// domain control block, family table and scheduler together, because
// they share tightly coupled invariants (queue membership, pid
// validity, stack legality) that are easiest to hold correctly when
// they can see each other's internals directly.
package task

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/coProCyon/nos/internal/kstack"
	"github.com/coProCyon/nos/internal/trust"
)

// State is one of the three lifecycle states; transitions are
// monotonic: Waiting -> Running -> Waiting* -> Exited, and Exited is
// terminal.
type State int32

const (
	Waiting State = 0
	Running State = 1
	Exited  State = 2
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "0"
	case Running:
		return "1"
	case Exited:
		return "2"
	default:
		return "?"
	}
}

// Flags is the advisory bitset.
type Flags uint32

const Stopping Flags = 1 << 0

const (
	MaxNameLen = 32
	// AllCPUs is the default affinity mask: every bit set.
	AllCPUs = ^uint64(0)
	// Invalid is the pid a Task carries before it is inserted into
	// the task table, or after it is removed.
	Invalid = -1
)

// Func is a task's entry point. ctx is an opaque argument the caller
// supplied to Start; the task subsystem never interprets it.
type Func func(ctx unsafe.Pointer)

// Task is a kernel-mode schedulable execution context. Task
// implements objtable.Ref via Get/Put so it can be stored directly in
// the task table's object table.
type Task struct {
	magic uint64

	rsp   uintptr
	stack *kstack.Stack

	state State32
	flags Flags32

	pid int32

	mu          sync.Mutex // guards name, cpuAffinity, timing fields below
	name        [MaxNameLen]byte
	cpuAffinity uint64

	function Func
	ctx      unsafe.Pointer

	startTime    time.Duration
	runStartTime time.Duration
	exitTime     time.Duration
	runtime      time.Duration

	contextSwitches atomic.Uint64

	// table_list_entry: intrusive membership in one TaskTable shard.
	tableNext, tablePrev *Task
	tableShard           int

	// queue_list_entry: intrusive membership in at most one run-queue.
	queueNext, queuePrev *Task
	queueMu              sync.Mutex
	taskQueue            *Queue

	refCounter atomic.Int32

	sched *Scheduler // owning scheduler, set by Start/Run
	cpu   *CPU       // CPU currently (or most recently) executing this task

	resume chan struct{} // scheduler -> task: you're running
	parked chan struct{} // task -> scheduler: I've yielded or exited
}

const taskMagic uint64 = 0x4b_54_41_53_4b_5f_30_31 // "KTASK_01"

// Construct returns a new Task with ref=1, no stack and no pid. name is
// formatted the way fmt.Sprintf would, then truncated to MaxNameLen-1
// bytes.
func Construct(nameFmt string, args ...interface{}) *Task {
	t := &Task{
		magic:       taskMagic,
		pid:         Invalid,
		cpuAffinity: AllCPUs,
		resume:      make(chan struct{}),
		parked:      make(chan struct{}),
	}
	t.state.Store(Waiting)
	t.refCounter.Store(1)
	t.SetName(nameFmt, args...)
	return t
}

// Get/Put implement objtable.Ref.
func (t *Task) Get() {
	if t.refCounter.Add(1) <= 1 {
		trust.Fatalf("task: Get on pid %d raised ref count to <= 1; underflow somewhere", t.pid)
	}
}

// Put drops a reference; at zero it releases the stack and destroys
// the task. Double-Put (net underflow) is a fatal bug, never a panic a
// caller could recover from.
func (t *Task) Put() {
	n := t.refCounter.Add(-1)
	if n < 0 {
		trust.Fatalf("task: ref-count underflow on pid %d", t.pid)
	}
	if n == 0 {
		t.release()
	}
}

func (t *Task) release() {
	if t.taskQueueSnapshot() != nil {
		trust.Fatalf("task: destroying pid %d while still queue-resident", t.pid)
	}
	t.stack = nil // drop our reference; stack backing array is now unreachable
}

func (t *Task) taskQueueSnapshot() *Queue {
	t.queueMu.Lock()
	defer t.queueMu.Unlock()
	return t.taskQueue
}

// SetName installs a formatted, bounded name.
func (t *Task) SetName(format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	t.mu.Lock()
	defer t.mu.Unlock()
	var buf [MaxNameLen]byte
	n := copy(buf[:MaxNameLen-1], s)
	_ = n
	t.name = buf
}

func (t *Task) GetName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for n < len(t.name) && t.name[n] != 0 {
		n++
	}
	return string(t.name[:n])
}

func (t *Task) SetCpuAffinity(mask uint64) {
	t.mu.Lock()
	t.cpuAffinity = mask
	t.mu.Unlock()
}

func (t *Task) GetCpuAffinity() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cpuAffinity
}

func (t *Task) SetStopping() {
	t.flags.Or(uint32(Stopping))
}

func (t *Task) IsStopping() bool {
	return t.flags.Load()&uint32(Stopping) != 0
}

func (t *Task) Pid() int32   { return t.pid }
func (t *Task) State() State { return t.state.Load() }

func (t *Task) ContextSwitches() uint64 { return t.contextSwitches.Load() }

// Runtime returns the accumulated on-CPU time recorded by the
// scheduler so far. The scheduler adds a task's slice when it switches
// away from it, so an exited task's last slice is added just after its
// state becomes Exited.
func (t *Task) Runtime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runtime
}

func (t *Task) StartTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startTime
}

func (t *Task) ExitTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitTime
}

// RSP exposes the last saved stack pointer; it is meaningful only while
// the task is not Running (a running task's frame is logically on the
// real goroutine stack, not the synthetic one).
func (t *Task) RSP() uintptr { return t.rsp }

func (t *Task) Stack() *kstack.Stack { return t.stack }

// checkInvariants enforces the stack's magics and rsp range, plus the
// task's own magic word. Any violation halts the CPU.
func (t *Task) checkInvariants() {
	if t.magic != taskMagic {
		trust.Fatalf("task: magic mismatch on pid %d (got %#x)", t.pid, t.magic)
	}
	if t.stack == nil {
		return
	}
	if err := t.stack.CheckRSP(t.rsp); err != nil {
		trust.Fatalf("task: pid %d failed stack invariant check: %v", t.pid, err)
	}
}
