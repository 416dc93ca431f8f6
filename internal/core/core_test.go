package core

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"
	"time"
)

// Test zero values of core structs
func TestStructZeroValues(t *testing.T) {
	t.Run("HeaderRecord", func(t *testing.T) {
		var rec HeaderRecord
		if rec.EthernetValid || rec.IPv4Valid || rec.TCPValid {
			t.Errorf("expected all valid flags false, got %+v", rec)
		}
		if rec.TCP.SrcPort != 0 || rec.TCP.DstPort != 0 {
			t.Errorf("expected zero ports, got src=%d dst=%d", rec.TCP.SrcPort, rec.TCP.DstPort)
		}
	})

	t.Run("Decision", func(t *testing.T) {
		var d Decision
		if d.Action != ActionDrop {
			t.Errorf("expected zero Decision to drop, got %v", d.Action)
		}
	})
}

func TestAddrConversion(t *testing.T) {
	tests := []struct {
		addr string
		want uint32
	}{
		{"10.0.0.1", 0x0A000001},
		{"192.168.1.2", 0xC0A80102},
		{"0.0.0.0", 0},
		{"255.255.255.255", 0xFFFFFFFF},
	}

	for _, tt := range tests {
		a := netip.MustParseAddr(tt.addr)
		got, ok := AddrToUint32(a)
		if !ok {
			t.Errorf("AddrToUint32(%s) returned !ok", tt.addr)
			continue
		}
		if got != tt.want {
			t.Errorf("AddrToUint32(%s) = 0x%08x, want 0x%08x", tt.addr, got, tt.want)
		}
		if back := AddrFromUint32(got); back != a {
			t.Errorf("AddrFromUint32(0x%08x) = %s, want %s", got, back, a)
		}
	}

	if _, ok := AddrToUint32(netip.MustParseAddr("2001:db8::1")); ok {
		t.Error("expected IPv6 address to be rejected")
	}
	if got, ok := AddrToUint32(netip.MustParseAddr("::ffff:10.0.0.1")); !ok || got != 0x0A000001 {
		t.Errorf("expected 4in6 address to unmap, got 0x%08x ok=%v", got, ok)
	}
}

func TestIngressMicros(t *testing.T) {
	p := DecodedPacket{Timestamp: time.UnixMicro(1010)}
	if got := p.IngressMicros(); got != 1010 {
		t.Errorf("expected 1010, got %d", got)
	}

	p.Timestamp = time.Unix(-5, 0)
	if got := p.IngressMicros(); got != 0 {
		t.Errorf("expected pre-epoch timestamp to clamp to 0, got %d", got)
	}
}

// Test sentinel errors
func TestSentinelErrors(t *testing.T) {
	t.Run("ErrorMessages", func(t *testing.T) {
		tests := []struct {
			err     error
			message string
		}{
			{ErrPipelineStopped, "flowcache: pipeline stopped"},
			{ErrPacketTooShort, "flowcache: packet too short"},
			{ErrSlotOutOfRange, "flowcache: slot index out of range"},
			{ErrConfigInvalid, "flowcache: invalid configuration"},
			{ErrDaemonNotRunning, "flowcache: daemon not running"},
		}

		for _, tt := range tests {
			if tt.err.Error() != tt.message {
				t.Errorf("expected error message %q, got %q", tt.message, tt.err.Error())
			}
		}
	})

	t.Run("ErrorWrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("slot 70: %w", ErrSlotOutOfRange)
		if !errors.Is(wrapped, ErrSlotOutOfRange) {
			t.Error("errors.Is failed for wrapped error")
		}
	})
}

func TestActionString(t *testing.T) {
	if ActionDrop.String() != "drop" {
		t.Errorf("expected drop, got %s", ActionDrop)
	}
	if ActionForward.String() != "forward" {
		t.Errorf("expected forward, got %s", ActionForward)
	}
}
