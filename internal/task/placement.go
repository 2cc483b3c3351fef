package task

// SelectQueue implements the CPU placement policy: given the calling
// task's affinity, the set of currently running CPUs, the per-CPU
// run-queues (indexed by cpu id), and the task's current queue (nil if
// it has none), choose a destination queue.
//
//  1. mask = runningCPUs & affinity; if zero, there is nowhere legal to
//     place the task and nil is returned.
//  2. Candidates are CPUs set in mask other than the current queue's
//     CPU, to favor migration. Among them the one with the smallest
//     SwitchContextCounter wins; ties go to the lower CPU id.
//  3. If current is the *only* legal candidate, Start must still
//     succeed on a single-CPU system: fall back to current rather than
//     returning none.
func SelectQueue(affinity uint64, runningCPUs uint64, queues []*Queue, current *Queue) *Queue {
	mask := runningCPUs & affinity
	if mask == 0 {
		return nil
	}

	var best *Queue
	var bestCount uint64
	for id := 0; id < len(queues); id++ {
		if mask&(1<<uint(id)) == 0 {
			continue
		}
		q := queues[id]
		if q == current {
			continue
		}
		c := q.SwitchContextCounter()
		if best == nil || c < bestCount {
			best = q
			bestCount = c
		}
	}
	if best != nil {
		return best
	}
	// No "other" candidate existed. If the current queue is itself a
	// legal destination (its CPU bit is set in mask), stay put instead
	// of reporting failure.
	if current != nil && mask&(1<<uint(current.ID())) != 0 {
		return current
	}
	return nil
}
