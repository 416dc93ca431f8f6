//go:build !linux

package source

import (
	"context"
	"fmt"

	"firestige.xyz/flowcache/internal/core"
)

// AFPacketOptions configures a live TPACKET_V3 capture.
type AFPacketOptions struct {
	Interface    string
	BPFFilter    string
	SnapLen      int
	BufferSizeMB int
	FanoutID     uint16
	Fanout       bool
	IngressPort  uint16
	Worker       int
}

// AFPacketSource is only available on Linux.
type AFPacketSource struct{}

// NewAFPacketSource always fails outside Linux.
func NewAFPacketSource(AFPacketOptions) (*AFPacketSource, error) {
	return nil, fmt.Errorf("%w: afpacket capture requires linux", core.ErrConfigInvalid)
}

func (s *AFPacketSource) Name() string { return "afpacket" }

func (s *AFPacketSource) Capture(context.Context, chan<- core.RawPacket) error {
	return core.ErrUnsupportedProto
}

func (s *AFPacketSource) Stats() Stats { return Stats{} }
