// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"

	"firestige.xyz/flowcache/internal/core"
)

const ipv4HeaderMinLen = 20

// decodeIPv4 decodes the IPv4 header. When verify is set the header checksum
// is checked; ok reports the result and is always true otherwise.
func decodeIPv4(data []byte, verify bool) (ip core.IPv4Header, payload []byte, ok bool, err error) {
	if len(data) < ipv4HeaderMinLen {
		return core.IPv4Header{}, nil, false, core.ErrPacketTooShort
	}

	version := data[0] >> 4
	if version != 4 {
		return core.IPv4Header{}, nil, false, core.ErrUnsupportedProto
	}

	// IHL is in 32-bit words
	ihl := data[0] & 0x0F
	headerLen := int(ihl) * 4
	if headerLen < ipv4HeaderMinLen || len(data) < headerLen {
		return core.IPv4Header{}, nil, false, core.ErrPacketTooShort
	}

	flagsFrag := binary.BigEndian.Uint16(data[6:8])
	ip = core.IPv4Header{
		Version:        version,
		IHL:            ihl,
		DiffServ:       data[1],
		TotalLen:       binary.BigEndian.Uint16(data[2:4]),
		Identification: binary.BigEndian.Uint16(data[4:6]),
		Flags:          uint8(flagsFrag >> 13),
		FragOffset:     flagsFrag & 0x1FFF,
		TTL:            data[8],
		Protocol:       data[9],
		Checksum:       binary.BigEndian.Uint16(data[10:12]),
		SrcAddr:        binary.BigEndian.Uint32(data[12:16]),
		DstAddr:        binary.BigEndian.Uint32(data[16:20]),
	}
	if headerLen > ipv4HeaderMinLen {
		ip.Options = data[ipv4HeaderMinLen:headerLen]
	}

	ok = true
	if verify {
		ok = checksum(data[:headerLen]) == 0
	}

	return ip, data[headerLen:], ok, nil
}

// emitIPv4 appends the IPv4 header to dst with IHL derived from the options
// length and a freshly computed header checksum.
func emitIPv4(dst []byte, ip *core.IPv4Header) []byte {
	start := len(dst)
	ihl := uint8(ipv4HeaderMinLen+len(ip.Options)) / 4

	dst = append(dst, ip.Version<<4|ihl&0x0F, ip.DiffServ)
	dst = binary.BigEndian.AppendUint16(dst, ip.TotalLen)
	dst = binary.BigEndian.AppendUint16(dst, ip.Identification)
	dst = binary.BigEndian.AppendUint16(dst, uint16(ip.Flags)<<13|ip.FragOffset&0x1FFF)
	dst = append(dst, ip.TTL, ip.Protocol, 0, 0)
	dst = binary.BigEndian.AppendUint32(dst, ip.SrcAddr)
	dst = binary.BigEndian.AppendUint32(dst, ip.DstAddr)
	dst = append(dst, ip.Options...)

	sum := checksum(dst[start:])
	binary.BigEndian.PutUint16(dst[start+10:start+12], sum)
	return dst
}
