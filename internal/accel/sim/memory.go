package sim

import (
	"sync/atomic"

	"github.com/samcharles93/accelq/internal/accel"
)

type memory struct {
	kind  accel.MemoryKind
	buf   []byte
	dev   *Device
	unpin func() error
	freed atomic.Bool
}

var _ accel.HostMemory = (*memory)(nil)

func (m *memory) Kind() accel.MemoryKind {
	return m.kind
}

func (m *memory) Len() int64 {
	return int64(len(m.buf))
}

// Bytes exposes the backing store. Device memory is addressable too so that
// host-executed kernels can reach it.
func (m *memory) Bytes() []byte {
	return m.buf
}

func (m *memory) Free() error {
	if !m.freed.CompareAndSwap(false, true) {
		return accel.ErrDestroyed
	}
	if m.dev != nil {
		m.dev.release(int64(len(m.buf)))
	}
	var err error
	if m.unpin != nil {
		err = m.unpin()
	}
	return err
}
