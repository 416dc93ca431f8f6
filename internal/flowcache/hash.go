// Package flowcache implements the direct-mapped flow cache: a CRC-16 flow
// key hasher, a bank of parallel registers indexed by the hash, and the
// per-packet insert/update controller.
//
// The cache is collision-blind. Two flows whose keys hash to the same slot
// share that slot: the endpoints stay those of the first flow while size
// and timing accumulate from both.
package flowcache

import (
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc16"

	"firestige.xyz/flowcache/internal/core"
)

// MaxCapacity is the size of the full 16-bit hash output range.
const MaxCapacity = 1 << 16

// keyLen is the size of the serialized flow key fed to the hash.
const keyLen = 4 + 4 + 1 + 2 + 2

var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

// FlowKey is the 5-tuple identifying a flow. Fields missing from a packet
// are zero.
type FlowKey struct {
	SrcAddr  uint32
	DstAddr  uint32
	Protocol uint8
	SrcPort  uint16
	DstPort  uint16
}

// KeyFromHeaders builds the flow key of a parsed header record.
func KeyFromHeaders(rec *core.HeaderRecord) FlowKey {
	var k FlowKey
	if rec.IPv4Valid {
		k.SrcAddr = rec.IPv4.SrcAddr
		k.DstAddr = rec.IPv4.DstAddr
		k.Protocol = rec.IPv4.Protocol
	}
	if rec.TCPValid {
		k.SrcPort = rec.TCP.SrcPort
		k.DstPort = rec.TCP.DstPort
	}
	return k
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d proto %d",
		core.AddrFromUint32(k.SrcAddr), k.SrcPort,
		core.AddrFromUint32(k.DstAddr), k.DstPort, k.Protocol)
}

// appendTo writes the key in hash field order, big-endian.
func (k FlowKey) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, k.SrcAddr)
	b = binary.BigEndian.AppendUint32(b, k.DstAddr)
	b = append(b, k.Protocol)
	b = binary.BigEndian.AppendUint16(b, k.SrcPort)
	return binary.BigEndian.AppendUint16(b, k.DstPort)
}

// Index is a slot position in a flow table. The zero Index is slot 0 and
// is valid for every table. Other values are only produced by a Hasher or
// by Table.IndexOf, both bounded by the table capacity.
type Index struct {
	v uint32
}

// Int returns the slot number.
func (i Index) Int() int { return int(i.v) }

// Hasher maps flow keys onto [0, capacity).
type Hasher struct {
	capacity uint32
}

// NewHasher creates a hasher for a table of the given capacity, which must
// be within [1, MaxCapacity].
func NewHasher(capacity int) (*Hasher, error) {
	if capacity < 1 || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: flow table capacity %d not in [1, %d]",
			core.ErrConfigInvalid, capacity, MaxCapacity)
	}
	return &Hasher{capacity: uint32(capacity)}, nil
}

// Capacity returns the size of the output range.
func (h *Hasher) Capacity() int { return int(h.capacity) }

// Sum returns the raw CRC-16 of the key.
func (h *Hasher) Sum(k FlowKey) uint16 {
	var buf [keyLen]byte
	return crc16.Checksum(k.appendTo(buf[:0]), crcTable)
}

// Index returns the slot of k.
func (h *Hasher) Index(k FlowKey) Index {
	return Index{v: uint32(h.Sum(k)) % h.capacity}
}
