// Package frame provides reference-counted pixel buffers handed from a
// capture stream to the host.
//
// A Buffer starts with one reference owned by its producer. Anyone who keeps
// the buffer past the call it was delivered in takes an extra reference with
// AddRef and gives it back with Release. Storage is returned to the allocator
// exactly once, when the last reference is released.
package frame

import (
	"sync/atomic"

	"github.com/smazurov/camnode/internal/types"
)

// Buffer is one captured frame plus metadata.
type Buffer struct {
	Width      int
	Height     int
	Stride     int
	FrameIndex uint64
	Timestamp  uint64
	SensorType types.SensorType
	Mode       types.VideoMode

	pixels []byte
	refs   atomic.Int32
	alloc  *Allocator
}

// Acquire allocates a buffer of size bytes from the default allocator.
func Acquire(size int) (*Buffer, error) {
	return defaultAllocator.Acquire(size)
}

// Pixels returns the pixel storage. The slice is only valid while the caller
// holds a reference.
func (b *Buffer) Pixels() []byte {
	return b.pixels
}

// Size returns the pixel storage size in bytes.
func (b *Buffer) Size() int {
	return len(b.pixels)
}

// Refs returns the current reference count.
func (b *Buffer) Refs() int32 {
	return b.refs.Load()
}

// AddRef takes an additional reference and returns b for convenience.
func (b *Buffer) AddRef() *Buffer {
	if b.refs.Add(1) <= 1 {
		panic("frame: AddRef on released buffer")
	}
	return b
}

// Release drops one reference. The storage is freed on the last release.
func (b *Buffer) Release() {
	n := b.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		panic("frame: Release of released buffer")
	}

	pixels := b.pixels
	b.pixels = nil
	b.alloc.free(pixels)
}
