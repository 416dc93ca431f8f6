// Package decoder implements the fixed Ethernet -> IPv4 -> TCP parser and
// the matching deparser.
package decoder

import "firestige.xyz/flowcache/internal/core"

// Decoder decodes raw packets into structured format.
type Decoder interface {
	Decode(raw core.RawPacket) (core.DecodedPacket, error)
}

// Config controls optional parser behaviour.
type Config struct {
	// SkipChecksum disables IPv4 header checksum verification.
	SkipChecksum bool
}

// StandardDecoder parses the fixed header stack. Headers outside the
// grammar stop the parse with the corresponding valid flag left false.
type StandardDecoder struct {
	config Config
}

// NewStandardDecoder creates a new decoder.
func NewStandardDecoder(cfg Config) *StandardDecoder {
	return &StandardDecoder{config: cfg}
}

// Decode parses raw into a DecodedPacket. Only a frame without a complete
// Ethernet header is rejected with core.ErrPacketTooShort. A truncated or
// non-version-4 IPv4 header, or a truncated TCP header, ends the parse
// with ParseError set and the unparsed bytes left in the payload.
func (d *StandardDecoder) Decode(raw core.RawPacket) (core.DecodedPacket, error) {
	pkt := core.DecodedPacket{
		Timestamp:   raw.Timestamp,
		CaptureLen:  raw.CaptureLen,
		OrigLen:     raw.OrigLen,
		IngressPort: raw.IngressPort,
	}
	rec := &pkt.Headers

	eth, rest, err := decodeEthernet(raw.Data)
	if err != nil {
		return pkt, err
	}
	rec.Ethernet = eth
	rec.EthernetValid = true

	if eth.EtherType != core.EtherTypeIPv4 {
		pkt.Payload = rest
		return pkt, nil
	}

	ip, next, csumOK, err := decodeIPv4(rest, !d.config.SkipChecksum)
	if err != nil {
		rec.ParseError = true
		pkt.Payload = rest
		return pkt, nil
	}
	rest = next
	rec.IPv4 = ip
	rec.IPv4Valid = true
	rec.ChecksumError = !csumOK

	// Non-first fragments carry no transport header.
	if ip.Protocol != core.ProtocolTCP || ip.FragOffset != 0 {
		pkt.Payload = rest
		return pkt, nil
	}

	tcp, next, err := decodeTCP(rest)
	if err != nil {
		rec.ParseError = true
		pkt.Payload = rest
		return pkt, nil
	}
	rec.TCP = tcp
	rec.TCPValid = true
	pkt.Payload = next

	return pkt, nil
}
