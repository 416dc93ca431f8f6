// Package source provides packet sources feeding the pipeline: pcap file
// replay and live AF_PACKET capture.
package source

import (
	"context"
	"fmt"

	"firestige.xyz/flowcache/internal/config"
	"firestige.xyz/flowcache/internal/core"
)

// Source produces raw frames.
//
// Capture blocks until ctx is cancelled, the source is exhausted or a
// fatal error occurs. Frames handed to out are owned by the receiver.
// Capture never closes out.
type Source interface {
	Name() string
	Capture(ctx context.Context, out chan<- core.RawPacket) error
	Stats() Stats
}

// Stats are source-side counters.
type Stats struct {
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"` // channel full or kernel drops
}

// New creates the source selected by cfg. worker distinguishes sources
// opened once per pipeline in binding mode.
func New(cfg config.CaptureConfig, worker int) (Source, error) {
	switch cfg.Type {
	case config.CaptureTypePcap:
		return NewFileSource(cfg.File, cfg.IngressPort), nil
	case config.CaptureTypeAFPacket:
		s, err := NewAFPacketSource(AFPacketOptions{
			Interface:    cfg.Interface,
			BPFFilter:    cfg.BPFFilter,
			SnapLen:      cfg.SnapLen,
			BufferSizeMB: cfg.BufferSizeMB,
			FanoutID:     cfg.FanoutID,
			Fanout:       cfg.DispatchMode == config.DispatchModeBinding && cfg.Workers > 1,
			IngressPort:  cfg.IngressPort,
			Worker:       worker,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unsupported capture type %q", core.ErrConfigInvalid, cfg.Type)
	}
}
