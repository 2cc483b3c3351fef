// Command nos boots the task subsystem on a fixed number of simulated
// CPUs, runs the multitasking self-test, and prints the resulting
// process table.
package main

import (
	"flag"
	"os"

	"github.com/coProCyon/nos/internal/kernel"
	"github.com/coProCyon/nos/internal/task"
	"github.com/coProCyon/nos/internal/trust"
)

func main() {
	numCPU := flag.Int("cpus", 4, "number of simulated CPUs")
	numTasks := flag.Int("tasks", 8, "number of self-test tasks to spawn")
	smpOff := flag.Bool("nosmp", false, "restrict scheduling to cpu 0")
	flag.Parse()

	params := kernel.NewParameters(*smpOff)
	k := kernel.Boot(params, *numCPU)

	trust.Infof("nos: booted %d cpu(s), smpOff=%v", k.Sched.NumCPU(), params.IsSmpOff())

	if _, err := kernel.RunMultitaskingSelfTest(k, *numTasks, task.AllCPUs); err != nil {
		trust.Fatalf("nos: self-test failed: %v", err)
	}

	trust.Infof("nos: self-test complete")
	k.Ps(os.Stdout)
}
