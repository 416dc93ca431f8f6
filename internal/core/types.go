// Package core defines core types with zero external dependencies.
package core

import (
	"encoding/binary"
	"net/netip"
)

// EtherType and protocol numbers understood by the fixed parser grammar.
const (
	EtherTypeIPv4 = 0x0800
	ProtocolTCP   = 6
)

// EthernetHeader represents L2 Ethernet frame header.
type EthernetHeader struct {
	DstMAC    [6]byte
	SrcMAC    [6]byte
	EtherType uint16
}

// IPv4Header represents an IPv4 header. Addresses are kept as big-endian
// uint32 values, the same width the flow table stores them in.
type IPv4Header struct {
	Version        uint8
	IHL            uint8 // in 32-bit words
	DiffServ       uint8
	TotalLen       uint16
	Identification uint16
	Flags          uint8  // 3 bits
	FragOffset     uint16 // 13 bits
	TTL            uint8
	Protocol       uint8
	Checksum       uint16
	SrcAddr        uint32
	DstAddr        uint32
	Options        []byte // zero-copy, len = (IHL-5)*4
}

// SrcIP returns the source address as a netip.Addr.
func (h IPv4Header) SrcIP() netip.Addr { return AddrFromUint32(h.SrcAddr) }

// DstIP returns the destination address as a netip.Addr.
func (h IPv4Header) DstIP() netip.Addr { return AddrFromUint32(h.DstAddr) }

// TCPHeader represents a TCP header.
type TCPHeader struct {
	SrcPort    uint16
	DstPort    uint16
	SeqNum     uint32
	AckNum     uint32
	DataOffset uint8  // in 32-bit words
	Flags      uint16 // reserved bits + control bits, 12 bits
	Window     uint16
	Checksum   uint16
	Urgent     uint16
	Options    []byte // zero-copy, len = (DataOffset-5)*4
}

// HeaderRecord is the parser output: every header of the fixed
// Ethernet -> IPv4 -> TCP grammar together with its validity flag.
// Fields of an invalid header are zero.
type HeaderRecord struct {
	Ethernet EthernetHeader
	IPv4     IPv4Header
	TCP      TCPHeader

	EthernetValid bool
	IPv4Valid     bool
	TCPValid      bool

	// ChecksumError is set when the IPv4 header checksum did not verify.
	// The packet is still processed.
	ChecksumError bool

	// ParseError is set when the parse stopped on a header it could not
	// extract after a valid Ethernet header. Headers extracted before it
	// keep their valid flags and the packet is still processed.
	ParseError bool
}

// AddrFromUint32 converts a big-endian uint32 to an IPv4 netip.Addr.
func AddrFromUint32(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

// AddrToUint32 converts an IPv4 (or 4in6) netip.Addr to a big-endian uint32.
// It returns false for IPv6 addresses.
func AddrToUint32(a netip.Addr) (uint32, bool) {
	a = a.Unmap()
	if !a.Is4() {
		return 0, false
	}
	b := a.As4()
	return binary.BigEndian.Uint32(b[:]), true
}
