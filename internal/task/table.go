package task

import (
	"fmt"
	"hash/fnv"
	"io"
	"sync"
	"unsafe"

	"github.com/coProCyon/nos/internal/kerr"
	"github.com/coProCyon/nos/internal/objtable"
)

const numShards = 16

type shard struct {
	mu   sync.Mutex
	head *Task
}

// Table is the global task table: an object table mapping pids to
// tasks, plus a sharded hash-keyed intrusive list (keyed by task
// pointer) used for "ps"-style iteration without contending a single
// lock.
type Table struct {
	objects *objtable.Table
	shards  [numShards]shard
}

func NewTable(maxPids int) *Table {
	return &Table{objects: objtable.New(maxPids)}
}

func shardFor(t *Task) int {
	h := fnv.New32a()
	var buf [8]byte
	addr := uintptr(unsafe.Pointer(t))
	for i := range buf {
		buf[i] = byte(addr >> (8 * i))
	}
	h.Write(buf[:])
	return int(h.Sum32() % numShards)
}

// Insert allocates a pid for t via the object table and links it into
// its shard. On pid exhaustion it returns kerr.NoMorePids and leaves t
// untouched, so the caller can roll back.
func (tt *Table) Insert(t *Task) error {
	id, ok := tt.objects.Insert(t)
	if !ok {
		return kerr.New(kerr.NoMorePids)
	}
	t.pid = int32(id)

	idx := shardFor(t)
	t.tableShard = idx
	s := &tt.shards[idx]
	s.mu.Lock()
	t.tableNext = s.head
	t.tablePrev = nil
	if s.head != nil {
		s.head.tablePrev = t
	}
	s.head = t
	s.mu.Unlock()
	return nil
}

// Remove unlinks t from its shard and releases the object-table slot,
// dropping the reference Insert took.
func (tt *Table) Remove(t *Task) {
	s := &tt.shards[t.tableShard]
	s.mu.Lock()
	if t.tablePrev != nil {
		t.tablePrev.tableNext = t.tableNext
	} else {
		s.head = t.tableNext
	}
	if t.tableNext != nil {
		t.tableNext.tablePrev = t.tablePrev
	}
	t.tableNext, t.tablePrev = nil, nil
	s.mu.Unlock()

	pid := t.pid
	t.pid = Invalid
	tt.objects.Remove(int(pid))
}

// Lookup returns the task with the given pid, with an extra reference
// already taken; the caller must Put it.
func (tt *Table) Lookup(pid int32) (*Task, bool) {
	if pid < 0 {
		return nil, false
	}
	r, ok := tt.objects.Lookup(int(pid))
	if !ok {
		return nil, false
	}
	return r.(*Task), true
}

// Ps prints one line per live task: a header followed by
// "pid state flags runtime_secs.usecs ctxswitches name".
func (tt *Table) Ps(w io.Writer) {
	fmt.Fprintln(w, "pid state flags runtime ctxswitches name")
	for i := range tt.shards {
		s := &tt.shards[i]
		s.mu.Lock()
		for t := s.head; t != nil; t = t.tableNext {
			rt := t.Runtime()
			fmt.Fprintf(w, "%d %s %#x %d.%06d %d %s\n",
				t.pid, t.State(), t.flags.Load(),
				int64(rt/1_000_000_000), int64(rt%1_000_000_000)/1000,
				t.ContextSwitches(), t.GetName())
		}
		s.mu.Unlock()
	}
}
