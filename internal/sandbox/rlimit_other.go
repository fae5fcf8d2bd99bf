//go:build !linux && !darwin

package sandbox

import "errors"

func applyNprocLimit(nproc uint64) error {
	return errors.New("setrlimit(RLIMIT_NPROC) is not supported on this platform")
}

func currentNprocLimit() (uint64, bool) {
	return 0, false
}
