// Command nosh is a thin REPL in front of a booted kernel: ps, spawn,
// stop and quit. It reads raw keystrokes from the controlling terminal
// via go-tty rather than relying on a line-buffered os.Stdin.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	tty "github.com/mattn/go-tty"

	"github.com/coProCyon/nos/internal/kerr"
	"github.com/coProCyon/nos/internal/kernel"
	"github.com/coProCyon/nos/internal/task"
)

func main() {
	params := kernel.NewParameters(false)
	k := kernel.Boot(params, 4)

	t, err := tty.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "nosh: no controlling terminal (%v); falling back to ps once and exiting\n", err)
		k.Ps(os.Stdout)
		return
	}
	defer t.Close()

	fmt.Println("nosh ready. commands: ps, spawn <n>, stop <pid>, quit")
	var line strings.Builder
	for {
		fmt.Print("nosh> ")
		line.Reset()
		for {
			r, err := t.ReadRune()
			if err != nil {
				return
			}
			if r == '\r' || r == '\n' {
				fmt.Println()
				break
			}
			fmt.Print(string(r))
			line.WriteRune(r)
		}
		dispatch(k, strings.TrimSpace(line.String()))
	}
}

func dispatch(k *kernel.Kernel, cmdline string) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "ps":
		k.Ps(os.Stdout)
	case "spawn":
		n := 1
		if len(fields) > 1 {
			if v, err := strconv.Atoi(fields[1]); err == nil {
				n = v
			}
		}
		if _, err := kernel.RunMultitaskingSelfTest(k, n, task.AllCPUs); err != nil {
			fmt.Fprintf(os.Stderr, "nosh: spawn failed: %v\n", err)
		}
	case "stop":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "nosh: usage: stop <pid>")
			return
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "nosh: bad pid %q\n", fields[1])
			return
		}
		stopPid(k, int32(pid))
	case "quit", "exit":
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "nosh: unknown command %q\n", fields[0])
	}
}

func stopPid(k *kernel.Kernel, pid int32) {
	t, ok := k.Sched.Table().Lookup(pid)
	if !ok {
		fmt.Fprintf(os.Stderr, "nosh: stop %d: %v\n", pid, kerr.New(kerr.NotFound))
		return
	}
	defer t.Put()
	t.SetStopping()
}
