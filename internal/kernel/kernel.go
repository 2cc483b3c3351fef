// Package kernel wires the task subsystem's pieces (internal/task)
// into a bootable unit and exposes the few external-collaborator
// contracts this core depends on but does not implement itself:
// environment parameters and the "ps" presentation.
package kernel

import (
	"io"

	"github.com/coProCyon/nos/internal/task"
)

// Parameters is the environment/parameters collaborator. In a real
// boot this would be backed by kernel command-line parsing; here it is
// whatever the embedder supplies.
type Parameters interface {
	IsSmpOff() bool
}

type params struct{ smpOff bool }

func (p params) IsSmpOff() bool { return p.smpOff }

// NewParameters returns the simplest Parameters implementation: a
// fixed SMP on/off switch.
func NewParameters(smpOff bool) Parameters {
	return params{smpOff: smpOff}
}

const (
	// DefaultMaxPids bounds the task table's object table; it is a
	// small-kernel-sized constant, not meant to be tuned.
	DefaultMaxPids = 4096
)

// Kernel is the booted task subsystem: a scheduler plus the parameters
// that shaped it.
type Kernel struct {
	Params Parameters
	Sched  *task.Scheduler
}

// Boot constructs a Scheduler for numCPU processors (honoring
// Parameters.IsSmpOff, which restricts scheduling to CPU 0) and starts
// each running CPU's scheduler loop and preemption timer.
func Boot(p Parameters, numCPU int) *Kernel {
	sched := task.New(numCPU, DefaultMaxPids, p.IsSmpOff())
	sched.Boot()
	return &Kernel{Params: p, Sched: sched}
}

// Ps prints the task table: a header line followed by one line per
// live task.
func (k *Kernel) Ps(w io.Writer) {
	k.Sched.Table().Ps(w)
}
