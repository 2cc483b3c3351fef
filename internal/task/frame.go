package task

import (
	"reflect"
	"unsafe"

	"github.com/coProCyon/nos/internal/kstack"
	"github.com/coProCyon/nos/internal/trust"
)

// savedFrame is the register-frame contract: the context-switch
// primitive pops these fields and "returns" to pc. In the initial
// synthetic frame produced by Start, pc is the trampoline execTrampoline,
// arg0 carries the task pointer, and flags has interrupts enabled.
type savedFrame struct {
	gpr   [8]uint64 // callee-saved general purpose registers, zeroed
	flags uint64
	arg0  uintptr
	pc    uintptr
}

const (
	flagInterruptsEnabled uint64 = 1 << 0
	frameSize                    = unsafe.Sizeof(savedFrame{})
)

// synthesizeFrame writes a savedFrame just below the stack's top magic
// word and returns the rsp a context switch should use to resume it: a
// frame whose saved flags have interrupts enabled and whose return
// address is the trampoline, with the task pointer in the first
// argument register. It must not overlap the eight bytes Magic2
// occupies at the very top of the stack.
func synthesizeFrame(s *kstack.Stack, t *Task) uintptr {
	frameAddr := (s.Top() - 8) - frameSize
	f := (*savedFrame)(unsafe.Pointer(frameAddr))
	*f = savedFrame{
		flags: flagInterruptsEnabled,
		arg0:  uintptr(unsafe.Pointer(t)),
		pc:    reflect.ValueOf(execTrampoline).Pointer(),
	}
	return frameAddr
}

// execTrampoline is the landing point a freshly started task's first
// context switch resumes into. It exists so that Start's synthetic
// frame has a concrete, named return address: interrupts enabled and
// the task pointer available as the first argument.
func execTrampoline(t *Task) {
	t.function(t.ctx)
	t.Exit()
	trust.Fatalf("execTrampoline: Exit returned for pid %d; the scheduler must never resume an exited task", t.pid)
}
