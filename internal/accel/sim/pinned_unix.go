//go:build linux || darwin

package sim

import (
	"golang.org/x/sys/unix"
)

// allocPinned maps anonymous memory and tries to lock it into RAM. Locking
// is best effort since RLIMIT_MEMLOCK is often small.
func allocPinned(bytes int64) ([]byte, func() error, error) {
	if bytes == 0 {
		return []byte{}, nil, nil
	}
	buf, err := unix.Mmap(-1, 0, int(bytes), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	locked := unix.Mlock(buf) == nil
	return buf, func() error {
		if locked {
			_ = unix.Munlock(buf)
		}
		return unix.Munmap(buf)
	}, nil
}
