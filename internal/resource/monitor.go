package resource

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// pollInterval is how often the monitor samples a child's RSS.
const pollInterval = 500 * time.Millisecond

// Monitor tracks a child process's peak RSS in the background, for the
// Resource Guard's post-run RecordUsage call.
type Monitor struct {
	done chan uint64
}

// StartMonitor begins polling pid's RSS every 500ms until ctx is canceled
// or the process exits. The peak observed (in MB) is retrieved from Stop.
func StartMonitor(ctx context.Context, pid int32) *Monitor {
	m := &Monitor{done: make(chan uint64, 1)}

	go func() {
		var peakMB uint64
		ticker := time.NewTicker(pollInterval)
		defer  ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.done <- peakMB
				return
			case <-ticker.C:
				proc, err := process.NewProcess(pid)
				if err != nil {
					m.done <- peakMB
					return
				}
				info, err := proc.MemoryInfo()
				if err != nil || info == nil {
					m.done <- peakMB
					return
				}
				if rssMB := info.RSS / 1024 / 1024; rssMB > peakMB {
					peakMB = rssMB
				}
			}
		}
	}()

	return m
}

// Stop waits for the monitor goroutine to observe ctx cancellation or
// process exit, and returns the peak RSS observed, in MB.
func (m *Monitor) Stop() uint64 {
	return <-m.done
}
