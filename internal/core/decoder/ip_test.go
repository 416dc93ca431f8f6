package decoder

import (
	"bytes"
	"testing"

	"firestige.xyz/flowcache/internal/core"
)

// Header with a valid checksum (0xB861).
var validIPv4Header = []byte{
	0x45,       // Version 4, IHL 5
	0x00,       // DSCP, ECN
	0x00, 0x73, // Total Length: 115
	0x00, 0x00, // Identification
	0x40, 0x00, // Flags: DF, Fragment Offset 0
	0x40,       // TTL: 64
	0x11,       // Protocol: UDP (17)
	0xB8, 0x61, // Checksum
	192, 168, 0, 1, // Src IP
	192, 168, 0, 199, // Dst IP
}

func TestDecodeIPv4Basic(t *testing.T) {
	data := append(append([]byte{}, validIPv4Header...), 0x01, 0x02, 0x03, 0x04)

	ip, payload, ok, err := decodeIPv4(data, true)
	if err != nil {
		t.Fatalf("decodeIPv4 failed: %v", err)
	}

	if !ok {
		t.Error("Expected checksum to verify")
	}
	if ip.Version != 4 {
		t.Errorf("Expected version 4, got %d", ip.Version)
	}
	if ip.IHL != 5 {
		t.Errorf("Expected IHL 5, got %d", ip.IHL)
	}
	if ip.Protocol != 17 {
		t.Errorf("Expected protocol 17, got %d", ip.Protocol)
	}
	if ip.TTL != 64 {
		t.Errorf("Expected TTL 64, got %d", ip.TTL)
	}
	if ip.TotalLen != 115 {
		t.Errorf("Expected TotalLen 115, got %d", ip.TotalLen)
	}
	if ip.Flags != 0x2 {
		t.Errorf("Expected DF flag 0x2, got 0x%x", ip.Flags)
	}
	if ip.SrcAddr != 0xC0A80001 {
		t.Errorf("Expected SrcAddr 0xC0A80001, got 0x%08x", ip.SrcAddr)
	}
	if ip.DstAddr != 0xC0A800C7 {
		t.Errorf("Expected DstAddr 0xC0A800C7, got 0x%08x", ip.DstAddr)
	}
	if ip.SrcIP().String() != "192.168.0.1" {
		t.Errorf("Expected SrcIP 192.168.0.1, got %s", ip.SrcIP())
	}
	if len(payload) != 4 {
		t.Errorf("Expected payload length 4, got %d", len(payload))
	}
}

func TestDecodeIPv4BadChecksum(t *testing.T) {
	data := append([]byte{}, validIPv4Header...)
	data[8] = 0x3F // TTL changed, checksum now stale

	_, _, ok, err := decodeIPv4(data, true)
	if err != nil {
		t.Fatalf("decodeIPv4 failed: %v", err)
	}
	if ok {
		t.Error("Expected checksum mismatch")
	}

	_, _, ok, err = decodeIPv4(data, false)
	if err != nil {
		t.Fatalf("decodeIPv4 failed: %v", err)
	}
	if !ok {
		t.Error("Expected ok when verification is disabled")
	}
}

func TestDecodeIPv4WithOptions(t *testing.T) {
	data := []byte{
		0x46, 0x00, 0x00, 0x18, // IHL 6, Total Length 24
		0x00, 0x01, 0x00, 0x00,
		0x40, 0x06, 0x00, 0x00,
		10, 0, 0, 1,
		10, 0, 0, 2,
		0x01, 0x01, 0x01, 0x00, // NOP, NOP, NOP, EOL
	}

	ip, payload, _, err := decodeIPv4(data, false)
	if err != nil {
		t.Fatalf("decodeIPv4 failed: %v", err)
	}
	if len(ip.Options) != 4 {
		t.Errorf("Expected 4 option bytes, got %d", len(ip.Options))
	}
	if len(payload) != 0 {
		t.Errorf("Expected empty payload, got %d bytes", len(payload))
	}
}

func TestDecodeIPv4TooShort(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"below minimum", validIPv4Header[:19]},
		{"ihl beyond data", append([]byte{0x4F}, validIPv4Header[1:]...)},
		{"ihl below minimum", append([]byte{0x44}, validIPv4Header[1:]...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := decodeIPv4(tt.data, true)
			if err != core.ErrPacketTooShort {
				t.Errorf("Expected ErrPacketTooShort, got %v", err)
			}
		})
	}
}

func TestDecodeIPv4UnsupportedVersion(t *testing.T) {
	data := append([]byte{0x65}, validIPv4Header[1:]...)

	_, _, _, err := decodeIPv4(data, true)
	if err != core.ErrUnsupportedProto {
		t.Errorf("Expected ErrUnsupportedProto, got %v", err)
	}
}

func TestEmitIPv4RecomputesChecksum(t *testing.T) {
	ip, _, _, err := decodeIPv4(validIPv4Header, true)
	if err != nil {
		t.Fatalf("decodeIPv4 failed: %v", err)
	}

	out := emitIPv4(nil, &ip)
	if !bytes.Equal(out, validIPv4Header) {
		t.Errorf("Expected %x, got %x", validIPv4Header, out)
	}

	ip.TTL--
	out = emitIPv4(nil, &ip)
	if checksum(out) != 0 {
		t.Errorf("Expected emitted header to verify, checksum residue 0x%04x", checksum(out))
	}
	if out[8] != 63 {
		t.Errorf("Expected TTL 63, got %d", out[8])
	}
}

func TestChecksum(t *testing.T) {
	hdr := append([]byte{}, validIPv4Header...)
	hdr[10], hdr[11] = 0, 0

	if got := checksum(hdr); got != 0xB861 {
		t.Errorf("Expected 0xB861, got 0x%04x", got)
	}
	if got := checksum([]byte{0x01}); got != 0xFEFF {
		t.Errorf("Expected odd-length checksum 0xFEFF, got 0x%04x", got)
	}
}

func BenchmarkDecodeIPv4(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _, _ = decodeIPv4(validIPv4Header, true)
	}
}
