package frame

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/smazurov/camnode/internal/types"
)

// DefaultMaxFrameSize bounds a single allocation.
const DefaultMaxFrameSize = types.MaxFrameSize

var defaultAllocator = NewAllocator()

// AllocFunc allocates pixel storage. Returning an error makes Acquire fail
// with ErrOutOfMemory.
type AllocFunc func(size int) ([]byte, error)

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

// WithMaxFrameSize sets the largest allowed allocation.
func WithMaxFrameSize(n int) AllocatorOption {
	return func(a *Allocator) {
		a.maxSize = n
	}
}

// WithAllocFunc replaces the storage allocation function. Pooling is disabled
// when a custom function is set.
func WithAllocFunc(fn AllocFunc) AllocatorOption {
	return func(a *Allocator) {
		a.allocFn = fn
	}
}

// WithFreeHook registers a callback invoked once per freed buffer.
func WithFreeHook(fn func(size int)) AllocatorOption {
	return func(a *Allocator) {
		a.onFree = fn
	}
}

// Allocator hands out Buffers and recycles their storage.
type Allocator struct {
	pool    sync.Pool
	maxSize int
	allocFn AllocFunc
	onFree  func(size int)

	live  atomic.Int64
	freed atomic.Uint64
}

// NewAllocator creates an allocator backed by a sync.Pool of byte slices.
func NewAllocator(opts ...AllocatorOption) *Allocator {
	a := &Allocator{maxSize: DefaultMaxFrameSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Acquire returns a buffer with size bytes of storage and one reference.
func (a *Allocator) Acquire(size int) (*Buffer, error) {
	if size <= 0 || size > a.maxSize {
		return nil, types.NewError(types.CodeOutOfMemory, "acquire", fmt.Sprintf("invalid frame size %d", size), nil)
	}

	pixels, err := a.alloc(size)
	if err != nil {
		return nil, types.NewError(types.CodeOutOfMemory, "acquire", fmt.Sprintf("%d bytes", size), err)
	}

	b := &Buffer{pixels: pixels, alloc: a}
	b.refs.Store(1)
	a.live.Add(1)
	return b, nil
}

func (a *Allocator) alloc(size int) ([]byte, error) {
	if a.allocFn != nil {
		return a.allocFn(size)
	}
	if p, ok := a.pool.Get().(*[]byte); ok && cap(*p) >= size {
		return (*p)[:size], nil
	}
	return make([]byte, size), nil
}

func (a *Allocator) free(pixels []byte) {
	a.live.Add(-1)
	a.freed.Add(1)
	if a.allocFn == nil && pixels != nil {
		a.pool.Put(&pixels)
	}
	if a.onFree != nil {
		a.onFree(len(pixels))
	}
}

// DefaultAllocator returns the allocator used by Acquire.
func DefaultAllocator() *Allocator {
	return defaultAllocator
}

// MaxSize returns the largest allocation Acquire accepts.
func (a *Allocator) MaxSize() int {
	return a.maxSize
}

// Live returns the number of buffers not yet freed.
func (a *Allocator) Live() int64 {
	return a.live.Load()
}

// Freed returns the number of buffers freed so far.
func (a *Allocator) Freed() uint64 {
	return a.freed.Load()
}
