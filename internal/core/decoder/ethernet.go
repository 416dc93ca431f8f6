// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"

	"firestige.xyz/flowcache/internal/core"
)

const ethernetHeaderLen = 14

// decodeEthernet decodes the Ethernet header.
// Returns EthernetHeader and remaining payload.
func decodeEthernet(data []byte) (core.EthernetHeader, []byte, error) {
	if len(data) < ethernetHeaderLen {
		return core.EthernetHeader{}, nil, core.ErrPacketTooShort
	}

	eth := core.EthernetHeader{}

	// Destination MAC (6 bytes)
	copy(eth.DstMAC[:], data[0:6])

	// Source MAC (6 bytes)
	copy(eth.SrcMAC[:], data[6:12])

	// EtherType (2 bytes). VLAN tags are outside the grammar and surface
	// here as a non-IPv4 ethertype.
	eth.EtherType = binary.BigEndian.Uint16(data[12:14])

	return eth, data[ethernetHeaderLen:], nil
}

// emitEthernet appends the Ethernet header to dst.
func emitEthernet(dst []byte, eth *core.EthernetHeader) []byte {
	dst = append(dst, eth.DstMAC[:]...)
	dst = append(dst, eth.SrcMAC[:]...)
	return binary.BigEndian.AppendUint16(dst, eth.EtherType)
}
