package kernel

import (
	"time"
	"unsafe"

	"github.com/coProCyon/nos/internal/task"
	"github.com/coProCyon/nos/internal/trust"
)

// RunMultitaskingSelfTest spawns n tasks, each of which prints and
// sleeps twice, starts all of them with the given affinity, and joins
// every one before returning. If a Start fails it returns at once with
// the tasks started so far and the error, without joining them.
// Callers that want to assert placement or timing properties should
// inspect the returned tasks themselves.
func RunMultitaskingSelfTest(k *Kernel, n int, affinity uint64) ([]*task.Task, error) {
	tasks := make([]*task.Task, 0, n)
	for i := 0; i < n; i++ {
		idx := i
		t := task.Construct("selftest/%d", idx)
		t.SetCpuAffinity(affinity)

		body := func(ctx unsafe.Pointer) {
			for iter := 0; iter < 2; iter++ {
				trust.Infof("selftest/%d: iteration %d on pid %d", idx, iter, t.Pid())
				t.Sleep(100 * time.Millisecond)
			}
		}
		if err := t.Start(k.Sched, body, nil); err != nil {
			return tasks, err
		}
		tasks = append(tasks, t)
	}

	for _, t := range tasks {
		t.Wait()
	}
	return tasks, nil
}
