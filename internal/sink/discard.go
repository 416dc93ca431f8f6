package sink

import (
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/flowcache/internal/core"
)

// Discard counts frames and drops them.
type Discard struct {
	frames atomic.Uint64
	bytes  atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

func NewDiscard() *Discard { return &Discard{} }

func (d *Discard) Send(_ uint16, frame []byte, _ time.Time) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return core.ErrSinkClosed
	}
	d.frames.Add(1)
	d.bytes.Add(uint64(len(frame)))
	return nil
}

// Counts returns frames and bytes accepted so far.
func (d *Discard) Counts() (frames, bytes uint64) {
	return d.frames.Load(), d.bytes.Load()
}

func (d *Discard) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
