package sandbox

import (
	"errors"
	"os"
)

const oomScoreAdjPath = "/proc/self/oom_score_adj"

// raiseOomScoreAdj writes +500 to /proc/self/oom_score_adj so the kernel's
// OOM killer prefers a sandboxed child over system-critical services. It is
// best-effort and applied by ApplyToCurrentProcess together with the
// setrlimit limits under CapabilitySetrlimit. A missing procfs (non-Linux) or a read-only file (some
// containers) is not an error; anything else is.
func raiseOomScoreAdj() error {
	if _, err := os.Stat(oomScoreAdjPath); err != nil {
		return nil
	}

	err := os.WriteFile(oomScoreAdjPath, []byte("500"), 0o644)
	if err == nil || errors.Is(err, os.ErrPermission) {
		return nil
	}
	return err
}
