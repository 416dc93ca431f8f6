// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"

	"firestige.xyz/flowcache/internal/core"
)

const tcpHeaderMinLen = 20

// decodeTCP decodes TCP header.
func decodeTCP(data []byte) (core.TCPHeader, []byte, error) {
	if len(data) < tcpHeaderMinLen {
		return core.TCPHeader{}, nil, core.ErrPacketTooShort
	}

	// Data Offset (upper 4 bits at offset 12) in 32-bit words
	dataOffset := data[12] >> 4
	headerLen := int(dataOffset) * 4
	if headerLen < tcpHeaderMinLen || len(data) < headerLen {
		return core.TCPHeader{}, nil, core.ErrPacketTooShort
	}

	tcp := core.TCPHeader{
		SrcPort:    binary.BigEndian.Uint16(data[0:2]),
		DstPort:    binary.BigEndian.Uint16(data[2:4]),
		SeqNum:     binary.BigEndian.Uint32(data[4:8]),
		AckNum:     binary.BigEndian.Uint32(data[8:12]),
		DataOffset: dataOffset,
		Flags:      binary.BigEndian.Uint16(data[12:14]) & 0x0FFF,
		Window:     binary.BigEndian.Uint16(data[14:16]),
		Checksum:   binary.BigEndian.Uint16(data[16:18]),
		Urgent:     binary.BigEndian.Uint16(data[18:20]),
	}
	if headerLen > tcpHeaderMinLen {
		tcp.Options = data[tcpHeaderMinLen:headerLen]
	}

	return tcp, data[headerLen:], nil
}

// emitTCP appends the TCP header to dst. The checksum is emitted unchanged:
// forwarding never touches fields covered by it.
func emitTCP(dst []byte, tcp *core.TCPHeader) []byte {
	dataOffset := uint16(tcpHeaderMinLen+len(tcp.Options)) / 4

	dst = binary.BigEndian.AppendUint16(dst, tcp.SrcPort)
	dst = binary.BigEndian.AppendUint16(dst, tcp.DstPort)
	dst = binary.BigEndian.AppendUint32(dst, tcp.SeqNum)
	dst = binary.BigEndian.AppendUint32(dst, tcp.AckNum)
	dst = binary.BigEndian.AppendUint16(dst, dataOffset<<12|tcp.Flags&0x0FFF)
	dst = binary.BigEndian.AppendUint16(dst, tcp.Window)
	dst = binary.BigEndian.AppendUint16(dst, tcp.Checksum)
	dst = binary.BigEndian.AppendUint16(dst, tcp.Urgent)
	return append(dst, tcp.Options...)
}
