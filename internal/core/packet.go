// Package core defines core data structures with zero external dependencies.
package core

import "time"

// RawPacket is captured from a source, zero-copy reference to the source buffer.
type RawPacket struct {
	Data        []byte    // Raw frame data
	Timestamp   time.Time // Capture timestamp (kernel timestamp preferred)
	CaptureLen  uint32    // Actual captured length
	OrigLen     uint32    // Original frame length
	IngressPort uint16    // Logical ingress port of the source
}

// DecodedPacket is the result of the Ethernet/IPv4/TCP parse.
type DecodedPacket struct {
	Timestamp   time.Time
	Headers     HeaderRecord
	Payload     []byte // Bytes after the last valid header, zero-copy slice
	CaptureLen  uint32
	OrigLen     uint32
	IngressPort uint16
}

// IngressMicros returns the ingress timestamp in microseconds since the epoch.
// Times before the epoch map to zero.
func (p *DecodedPacket) IngressMicros() uint64 {
	us := p.Timestamp.UnixMicro()
	if us < 0 {
		return 0
	}
	return uint64(us)
}

// Action is the forwarding verdict for a packet.
type Action uint8

const (
	ActionDrop Action = iota
	ActionForward
)

func (a Action) String() string {
	switch a {
	case ActionForward:
		return "forward"
	default:
		return "drop"
	}
}

// Decision is produced by the forwarding stage.
type Decision struct {
	Action     Action
	EgressPort uint16
	Table      string // name of the table that produced the decision, empty on default
}
