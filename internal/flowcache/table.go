package flowcache

import (
	"fmt"
	"net/netip"

	"firestige.xyz/flowcache/internal/core"
)

// Table is the flow register bank: one register per tracked attribute, all
// sharing the same index space.
type Table struct {
	exists    *Register[bool]
	srcAddr   *Register[uint32]
	dstAddr   *Register[uint32]
	srcPort   *Register[uint16]
	dstPort   *Register[uint16]
	firstSeen *Register[uint64]
	lastSeen  *Register[uint64]
	duration  *Register[uint64]
	totalSize *Register[uint64]
}

func newTable(capacity int) *Table {
	return &Table{
		exists:    NewRegister[bool](capacity),
		srcAddr:   NewRegister[uint32](capacity),
		dstAddr:   NewRegister[uint32](capacity),
		srcPort:   NewRegister[uint16](capacity),
		dstPort:   NewRegister[uint16](capacity),
		firstSeen: NewRegister[uint64](capacity),
		lastSeen:  NewRegister[uint64](capacity),
		duration:  NewRegister[uint64](capacity),
		totalSize: NewRegister[uint64](capacity),
	}
}

// Capacity returns the number of slots.
func (t *Table) Capacity() int { return t.exists.Len() }

// IndexOf converts an external slot number into an Index.
func (t *Table) IndexOf(slot int) (Index, error) {
	if slot < 0 || slot >= t.Capacity() {
		return Index{}, fmt.Errorf("%w: %d not in [0, %d)", core.ErrSlotOutOfRange, slot, t.Capacity())
	}
	return Index{v: uint32(slot)}, nil
}

// record gathers every attribute of slot i. The caller holds the slot lock.
func (t *Table) record(i Index) Record {
	return Record{
		Slot:      i.Int(),
		Exists:    t.exists.Read(i),
		SrcAddr:   t.srcAddr.Read(i),
		DstAddr:   t.dstAddr.Read(i),
		SrcPort:   t.srcPort.Read(i),
		DstPort:   t.dstPort.Read(i),
		FirstSeen: t.firstSeen.Read(i),
		LastSeen:  t.lastSeen.Read(i),
		Duration:  t.duration.Read(i),
		TotalSize: t.totalSize.Read(i),
	}
}

// Record is a copy of one slot, for read-only consumers. Timestamps and
// duration are in microseconds.
type Record struct {
	Slot      int    `json:"slot" yaml:"slot"`
	Exists    bool   `json:"exists" yaml:"exists"`
	SrcAddr   uint32 `json:"src_addr" yaml:"src_addr"`
	DstAddr   uint32 `json:"dst_addr" yaml:"dst_addr"`
	SrcPort   uint16 `json:"src_port" yaml:"src_port"`
	DstPort   uint16 `json:"dst_port" yaml:"dst_port"`
	FirstSeen uint64 `json:"first_seen" yaml:"first_seen"`
	LastSeen  uint64 `json:"last_seen" yaml:"last_seen"`
	Duration  uint64 `json:"duration" yaml:"duration"`
	TotalSize uint64 `json:"total_size" yaml:"total_size"`
}

// SrcIP returns the source address of the slot.
func (r Record) SrcIP() netip.Addr { return core.AddrFromUint32(r.SrcAddr) }

// DstIP returns the destination address of the slot.
func (r Record) DstIP() netip.Addr { return core.AddrFromUint32(r.DstAddr) }
