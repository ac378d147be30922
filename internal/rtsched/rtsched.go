// Package rtsched elevates the SCSI bus thread to a real-time scheduling
// class, the way the original daemon does before entering its bus polling
// loop (spec.md §9: the bus thread runs outside the registry lock at
// elevated priority so control-plane commands can't starve it).
package rtsched

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Elevate pins the calling goroutine to OS thread cpu and switches it to
// SCHED_FIFO at priority. It calls runtime.LockOSThread itself, so it must
// be called from the goroutine that will run the bus loop.
func Elevate(cpu, priority int) error {
	runtime.LockOSThread()

	if cpu >= 0 {
		var set unix.CPUSet
		set.Zero()
		set.Set(cpu)
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			return fmt.Errorf("set cpu affinity to %d: %w", cpu, err)
		}
	}

	param := &unix.SchedParam{Priority: int32(priority)}
	if err := unix.SchedSetscheduler(0, unix.SCHED_FIFO, param); err != nil {
		return fmt.Errorf("set SCHED_FIFO priority %d: %w", priority, err)
	}
	return nil
}

// Release returns the calling goroutine to the normal SCHED_OTHER class,
// used on shutdown so the final cleanup work doesn't run at elevated
// priority.
func Release() error {
	param := &unix.SchedParam{Priority: 0}
	if err := unix.SchedSetscheduler(0, unix.SCHED_OTHER, param); err != nil {
		return fmt.Errorf("reset scheduler: %w", err)
	}
	runtime.UnlockOSThread()
	return nil
}
