package task

import (
	"sync/atomic"
	"time"

	"github.com/coProCyon/nos/internal/kstack"
	"github.com/coProCyon/nos/internal/trust"
)

// CPU is one processor's slice of the scheduler: its run-queue, its
// preempt count, and the bookkeeping a context switch needs to hand
// control to the next task.
type CPU struct {
	id    int
	queue *Queue

	preemptCount    atomic.Int32
	preemptPending  atomic.Bool
	current         atomic.Pointer[Task]
	idle            *Task
	lastRSP         uintptr // rsp of the task switched in on this CPU; 0 while idle
}

func (cpu *CPU) ID() int        { return cpu.id }
func (cpu *CPU) Queue() *Queue  { return cpu.queue }
func (cpu *CPU) Current() *Task { return cpu.current.Load() }

// DisallowPreemption and PermitPreemption bracket a critical section
// that the scheduler's timer must not interrupt.
func (cpu *CPU) DisallowPreemption() { cpu.preemptCount.Add(1) }
func (cpu *CPU) PermitPreemption()   { cpu.preemptCount.Add(-1) }

const idleSlice = 200 * time.Microsecond
const timerQuantum = 2 * time.Millisecond

// Scheduler owns the per-CPU queues, the task table, and the clock; it
// is a process-wide singleton constructed once at boot.
type Scheduler struct {
	cpus   []*CPU
	queues []*Queue
	table  *Table

	bootTime    time.Time
	runningCPUs uint64
	smpOff      bool
}

// New builds a Scheduler with nCPU processors and a task table able to
// hold maxPids live tasks. When smpOff is true only CPU 0 is marked
// running, matching the Parameters.IsSmpOff() collaborator.
func New(nCPU, maxPids int, smpOff bool) *Scheduler {
	s := &Scheduler{
		table:    NewTable(maxPids),
		bootTime: time.Now(),
		smpOff:   smpOff,
	}
	for i := 0; i < nCPU; i++ {
		q := NewQueue(i)
		cpu := &CPU{id: i, queue: q}
		s.queues = append(s.queues, q)
		s.cpus = append(s.cpus, cpu)
		if !smpOff || i == 0 {
			s.runningCPUs |= 1 << uint(i)
		}
	}
	for _, cpu := range s.cpus {
		cpu.idle = Construct("idle/%d", cpu.id)
		cpu.idle.state.Store(Running)
		if err := s.table.Insert(cpu.idle); err != nil {
			trust.Fatalf("scheduler: could not register idle task for cpu %d: %v", cpu.id, err)
		}
		cpu.current.Store(cpu.idle)
	}
	return s
}

func (s *Scheduler) Now() time.Duration  { return time.Since(s.bootTime) }
func (s *Scheduler) RunningCPUs() uint64 { return s.runningCPUs }
func (s *Scheduler) NumCPU() int         { return len(s.cpus) }
func (s *Scheduler) CPU(id int) *CPU     { return s.cpus[id] }
func (s *Scheduler) Table() *Table       { return s.table }
func (s *Scheduler) IsSmpOff() bool      { return s.smpOff }

// Boot starts each running CPU's scheduling loop and timer in its own
// goroutine; it does not block.
func (s *Scheduler) Boot() {
	for _, cpu := range s.cpus {
		if s.runningCPUs&(1<<uint(cpu.id)) == 0 {
			continue
		}
		go s.runLoop(cpu)
		go s.timerLoop(cpu)
	}
}

// runLoop is one CPU's scheduler: it repeatedly dequeues the next
// runnable task and hands it control, or spins on the idle task when
// its queue is empty.
func (s *Scheduler) runLoop(cpu *CPU) {
	for {
		next := cpu.queue.PickNext()
		if next == nil {
			s.idleTick(cpu)
			continue
		}
		s.switchTo(cpu, next)
	}
}

func (s *Scheduler) idleTick(cpu *CPU) {
	s.retireOutgoing(cpu, cpu.current.Load(), cpu.idle)
	cpu.current.Store(cpu.idle)
	cpu.lastRSP = 0
	time.Sleep(idleSlice)
}

func (s *Scheduler) retireOutgoing(cpu *CPU, prev, next *Task) {
	if prev == nil || prev == next || prev == cpu.idle {
		return
	}
	now := s.Now()
	prev.mu.Lock()
	prev.runtime += now - prev.runStartTime
	prev.mu.Unlock()
	prev.contextSwitches.Add(1)
}

// switchTo performs the register swap: it retires the outgoing task's
// accounting, marks the incoming task Running, validates its stack
// invariants, publishes it as the CPU's current rsp (the analogue of
// restoring a hardware register), and hands it control by signalling
// its resume channel; it blocks until the task parks again (by
// yielding, sleeping, or exiting).
func (s *Scheduler) switchTo(cpu *CPU, next *Task) {
	prev := cpu.current.Load()
	s.retireOutgoing(cpu, prev, next)

	now := s.Now()
	next.mu.Lock()
	next.runStartTime = now
	next.mu.Unlock()
	next.state.Store(Running)
	next.cpu = cpu
	next.checkInvariants()

	cpu.current.Store(next)
	cpu.lastRSP = next.rsp
	cpu.preemptPending.Store(false)

	next.resume <- struct{}{}
	<-next.parked
}

// yield is Schedule()'s implementation: the calling task (which must
// be the CPU's current task) goes back to Waiting, is placed at the
// tail of its own queue, and parks until the scheduler resumes it
// again.
func (s *Scheduler) yield(t *Task) {
	cpu := t.cpu
	if cpu == nil {
		trust.Fatalf("task: Schedule called on pid %d with no owning cpu", t.pid)
	}
	if t.state.Load() != Exited {
		t.state.Store(Waiting)
		cpu.queue.Insert(t)
	}
	t.parked <- struct{}{}
	<-t.resume
}

// parkForever is Exit()'s implementation: signal the scheduler once
// more and then block for good. The task is not a member of any queue,
// so PickNext will never choose it again; resuming it would be a fatal
// bug.
func (s *Scheduler) parkForever(t *Task) {
	t.parked <- struct{}{}
	<-t.resume
	trust.Fatalf("task: pid %d resumed after Exit; scheduler must never return to an exited task", t.pid)
}

// timerLoop is the preemption-request source: it fires on a fixed
// quantum and, when the CPU's preempt count is zero, marks preemption
// pending. Nothing reads the pending flag (switchTo only clears it):
// this kernel core is purely cooperative, a task gives up the CPU only
// at Schedule, Sleep or Exit whatever the flag says, and this loop never
// forces control away from a task mid-flight.
func (s *Scheduler) timerLoop(cpu *CPU) {
	ticker := time.NewTicker(timerQuantum)
	defer ticker.Stop()
	for range ticker.C {
		if cpu.preemptCount.Load() == 0 {
			cpu.preemptPending.Store(true)
		}
	}
}

// GetCurrentTask recovers the task currently running on cpuID purely
// from that CPU's last restored stack pointer: mask off the low bits
// to find the Stack header, verify both magics and the rsp range,
// follow the back-reference, and verify the Task's own magic. This is
// deliberately redundant with CPU.Current (which is plain scheduler
// bookkeeping): GetCurrentTask is the "without a thread-local"
// recovery path.
func (s *Scheduler) GetCurrentTask(cpuID int) (*Task, error) {
	cpu := s.cpus[cpuID]
	if cpu.lastRSP == 0 {
		// No task is switched in on this CPU (none has been yet, or it
		// has gone idle): it is running its idle task, which has no
		// synthetic stack to recover.
		return cpu.idle, nil
	}
	_, owner, err := kstack.FromRSP(cpu.lastRSP)
	if err != nil {
		return nil, err
	}
	t := (*Task)(owner)
	if t.magic != taskMagic {
		trust.Fatalf("scheduler: current-task recovery on cpu %d found a bad task magic", cpuID)
	}
	return t, nil
}
