//go:build !linux

package cpupin

// PinSelf is a no-op on platforms without sched_setaffinity.
func PinSelf(cpu int) error {
	return nil
}

// CurrentCPU is unavailable off Linux.
func CurrentCPU() int {
	return -1
}
