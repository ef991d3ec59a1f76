//go:build linux

package cpupin

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinSelf locks the calling goroutine to its OS thread and binds that thread
// to the given CPU. The caller owns the thread afterwards; it must not be
// returned to the scheduler pool while pinned work is running.
func PinSelf(cpu int) error {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("failed to set CPU affinity to %d: %w", cpu, err)
	}
	return nil
}

// CurrentCPU returns the CPU the calling thread is executing on, or -1 when
// the kernel does not expose it.
func CurrentCPU() int {
	cpu, _, err := unix.Getcpu()
	if err != nil {
		return -1
	}
	return cpu
}
