// Package affinity binds the calling goroutine to a single CPU.
package affinity

import "runtime"

// Unpinned marks a role that may run on any CPU.
const Unpinned = -1

// Pin locks the calling goroutine to its OS thread and, when cpu is not
// Unpinned, restricts that thread to cpu. The returned release function
// unlocks an unpinned thread. A pinned thread stays locked so that it exits
// with its goroutine instead of returning to the scheduler with a one-CPU
// mask.
func Pin(cpu int) (func(), error) {
	runtime.LockOSThread()
	if cpu == Unpinned {
		return runtime.UnlockOSThread, nil
	}
	if err := setAffinity(cpu); err != nil {
		runtime.UnlockOSThread()
		return func() {}, err
	}
	return func() {}, nil
}

// NumCPU returns the number of CPUs usable by the process.
func NumCPU() int { return runtime.NumCPU() }

// Reserve raises GOMAXPROCS so that n always-running goroutines and the
// runtime's own work can be scheduled at once. It returns the previous
// setting and whether the host has fewer CPUs than that, in which case the
// spinning goroutines time-share cores.
func Reserve(n int) (prev int, short bool) {
	want := n + 1
	prev = runtime.GOMAXPROCS(0)
	if prev < want {
		runtime.GOMAXPROCS(want)
	}
	return prev, NumCPU() < want
}
