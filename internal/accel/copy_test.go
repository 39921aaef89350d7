package accel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type kindOnly MemoryKind

func (k kindOnly) Kind() MemoryKind { return MemoryKind(k) }
func (kindOnly) Len() int64         { return 0 }
func (kindOnly) Free() error        { return nil }

func TestCopyDirection(t *testing.T) {
	t.Parallel()

	host, dev := kindOnly(MemHost), kindOnly(MemDevice)
	tests := []struct {
		dst, src Memory
		want     Direction
	}{
		{dst: dev, src: host, want: HostToDevice},
		{dst: host, src: dev, want: DeviceToHost},
		{dst: dev, src: dev, want: DeviceToDevice},
		{dst: host, src: host, want: HostToHost},
	}
	for _, tt := range tests {
		op := CopyOp{Dst: Span{Mem: tt.dst}, Src: Span{Mem: tt.src}}
		assert.Equal(t, tt.want, op.Direction(), "%s to %s", tt.src.Kind(), tt.dst.Kind())
	}
	assert.Equal(t, "device", MemDevice.String())
	assert.Equal(t, "host", MemHost.String())
}
