package decoder

import "firestige.xyz/flowcache/internal/core"

// Deparse appends the valid headers of pkt, in grammar order, followed by
// its payload to dst and returns the extended slice. The IPv4 header
// checksum is recomputed so header rewrites by the forwarding stage are
// reflected on the wire.
func Deparse(dst []byte, pkt *core.DecodedPacket) []byte {
	rec := &pkt.Headers
	if rec.EthernetValid {
		dst = emitEthernet(dst, &rec.Ethernet)
	}
	if rec.IPv4Valid {
		dst = emitIPv4(dst, &rec.IPv4)
	}
	if rec.TCPValid {
		dst = emitTCP(dst, &rec.TCP)
	}
	return append(dst, pkt.Payload...)
}
