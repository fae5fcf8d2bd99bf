//go:build linux || darwin

package sandbox

import (
	"fmt"
	"syscall"
	"unsafe"
)

// maxBalloonBytes is a hard upper bound (16 GiB) preventing an absurd
// configuration value from OOM-killing the host outright.
const maxBalloonBytes = 16 * 1024 * 1024 * 1024

// Balloon is an anonymous-mmap memory allocation used to simulate swap
// pressure in tests of the Resource Guard's admission check. It commits
// physical pages immediately by writing to every page after mmap, and
// releases them on Release.
type Balloon struct {
	addr uintptr
	size int
}

// Inflate allocates a balloon of exactly sizeBytes. sizeBytes must be > 0
// and at most 16 GiB.
func Inflate(sizeBytes int) (*Balloon, error) {
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("balloon size must be > 0")
	}
	if sizeBytes > maxBalloonBytes {
		return nil, fmt.Errorf("balloon size %d bytes exceeds hard limit of %d bytes (16 GiB)", sizeBytes, maxBalloonBytes)
	}

	data, err := syscall.Mmap(-1, 0, sizeBytes,
		syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_ANON|syscall.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap(%d bytes): %w", sizeBytes, err)
	}
	// Fault in every page so the kernel actually commits memory (or swap);
	// Go's mmap wrapper has no MAP_POPULATE equivalent, so touch pages
	// ourselves at a stride no smaller than the common 4 KiB page size.
	for i := 0; i < len(data); i += 4096 {
		data[i] = 0xAB
	}

	return &Balloon{addr: uintptr(unsafe.Pointer(&data[0])), size: sizeBytes}, nil
}

// Size returns the balloon's size in bytes.
func (b *Balloon) Size() int {
	return b.size
}

// Release deflates the balloon via munmap.
func (b *Balloon) Release() error {
	if b.addr == 0 {
		return nil
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(b.addr)), b.size)
	err := syscall.Munmap(data)
	b.addr = 0
	return err
}

// ShouldEnableBalloon reports whether a balloon of balloonBytes should be
// inflated given availableSwapBytes: only when it fits under the hard
// 16 GiB cap and the host reports at least that much free swap.
func ShouldEnableBalloon(availableSwapBytes, balloonBytes uint64) bool {
	return balloonBytes <= maxBalloonBytes && availableSwapBytes >= balloonBytes
}
