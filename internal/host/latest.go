package host

import (
	"sync"

	"github.com/smazurov/camnode/internal/frame"
)

// Latest keeps one reference to the most recent frame.
type Latest struct {
	mu  sync.Mutex
	buf *frame.Buffer
}

// Store replaces the held frame, taking a reference on buf and dropping the
// one held on the previous frame.
func (l *Latest) Store(buf *frame.Buffer) {
	buf.AddRef()

	l.mu.Lock()
	old := l.buf
	l.buf = buf
	l.mu.Unlock()

	if old != nil {
		old.Release()
	}
}

// Load returns the held frame with an extra reference the caller must
// release, or nil when no frame has arrived.
func (l *Latest) Load() *frame.Buffer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf == nil {
		return nil
	}
	return l.buf.AddRef()
}

// Clear drops the held frame.
func (l *Latest) Clear() {
	l.mu.Lock()
	old := l.buf
	l.buf = nil
	l.mu.Unlock()

	if old != nil {
		old.Release()
	}
}
