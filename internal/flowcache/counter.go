package flowcache

import "sync/atomic"

// PacketCounter is the single-cell global packet tally. It wraps on
// overflow.
type PacketCounter struct {
	v atomic.Uint32
}

// Read returns the current count.
func (c *PacketCounter) Read() uint32 { return c.v.Load() }

// Write overwrites the count.
func (c *PacketCounter) Write(v uint32) { c.v.Store(v) }

// Increment adds one and returns the new count.
func (c *PacketCounter) Increment() uint32 { return c.v.Add(1) }
