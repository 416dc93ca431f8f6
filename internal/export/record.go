package export

import (
	"encoding/json"

	"firestige.xyz/flowcache/internal/flowcache"
)

// slotMessage is the wire form of one slot. Times are microseconds.
type slotMessage struct {
	Node          string            `json:"node,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	ExportedAt    int64             `json:"exported_at"`
	PacketCounter uint32            `json:"packet_counter"`
	Slot          int               `json:"slot"`
	SrcIP         string            `json:"src_ip"`
	DstIP         string            `json:"dst_ip"`
	SrcPort       uint16            `json:"src_port"`
	DstPort       uint16            `json:"dst_port"`
	FirstSeen     uint64            `json:"first_seen"`
	LastSeen      uint64            `json:"last_seen"`
	Duration      uint64            `json:"duration"`
	TotalSize     uint64            `json:"total_size"`
}

func newSlotMessage(snap *Snapshot, r flowcache.Record) slotMessage {
	return slotMessage{
		Node:          snap.Node.Name,
		Tags:          snap.Node.Tags,
		ExportedAt:    snap.Time.UnixMicro(),
		PacketCounter: snap.Packets,
		Slot:          r.Slot,
		SrcIP:         r.SrcIP().String(),
		DstIP:         r.DstIP().String(),
		SrcPort:       r.SrcPort,
		DstPort:       r.DstPort,
		FirstSeen:     r.FirstSeen,
		LastSeen:      r.LastSeen,
		Duration:      r.Duration,
		TotalSize:     r.TotalSize,
	}
}

func encodeSlot(snap *Snapshot, r flowcache.Record) ([]byte, error) {
	return json.Marshal(newSlotMessage(snap, r))
}
