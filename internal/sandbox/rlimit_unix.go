//go:build linux || darwin

package sandbox

import "syscall"

// applyNprocLimit sets RLIMIT_NPROC on the current process. Intended to run
// in the child after fork, before exec, mirroring the original
// implementation's pre_exec hook — RLIMIT_AS is deliberately never used
// here; it conflicts with allocator overcommit and produces spurious ENOMEM
// in well-behaved processes (see original_source rlimit.rs).
func applyNprocLimit(nproc uint64) error {
	rlim := syscall.Rlimit{Cur: nproc, Max: nproc}
	return syscall.Setrlimit(syscall.RLIMIT_NPROC, &rlim)
}

// currentNprocLimit reads the current soft RLIMIT_NPROC, if finite.
func currentNprocLimit() (uint64, bool) {
	var rlim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NPROC, &rlim); err != nil {
		return 0, false
	}
	if rlim.Cur == uint64(syscall.RLIM_INFINITY) {
		return 0, false
	}
	return rlim.Cur, true
}
