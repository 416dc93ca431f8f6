//go:build linux

package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/flowcache/internal/core"
)

const pollTimeout = 100 * time.Millisecond

// AFPacketOptions configures a live TPACKET_V3 capture.
type AFPacketOptions struct {
	Interface    string
	BPFFilter    string
	SnapLen      int
	BufferSizeMB int
	FanoutID     uint16
	Fanout       bool // join FanoutID so the kernel hashes flows across workers
	IngressPort  uint16
	Worker       int
}

// AFPacketSource captures from a network interface.
type AFPacketSource struct {
	opts      AFPacketOptions
	frameSize int
	blockSize int
	numBlocks int

	received   atomic.Uint64
	dropped    atomic.Uint64
	kernelDrop atomic.Uint64
}

// NewAFPacketSource validates opts and sizes the ring. The socket is
// opened by Capture.
func NewAFPacketSource(opts AFPacketOptions) (*AFPacketSource, error) {
	if opts.Interface == "" {
		return nil, fmt.Errorf("%w: afpacket interface is required", core.ErrConfigInvalid)
	}
	frameSize, blockSize, numBlocks, err := ringGeometry(opts.BufferSizeMB, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return &AFPacketSource{
		opts:      opts,
		frameSize: frameSize,
		blockSize: blockSize,
		numBlocks: numBlocks,
	}, nil
}

// Name returns the source name.
func (s *AFPacketSource) Name() string {
	return fmt.Sprintf("afpacket:%s#%d", s.opts.Interface, s.opts.Worker)
}

// Capture reads frames until ctx is cancelled. The handle is owned by
// this call and closed on return. Frames are copied out of the ring since
// the pipeline consumes them asynchronously; when out is full the frame
// is dropped rather than stalling the ring.
func (s *AFPacketSource) Capture(ctx context.Context, out chan<- core.RawPacket) error {
	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(s.opts.Interface),
		afpacket.OptFrameSize(s.frameSize),
		afpacket.OptBlockSize(s.blockSize),
		afpacket.OptNumBlocks(s.numBlocks),
		afpacket.OptPollTimeout(pollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return fmt.Errorf("failed to create TPacket handle: %w", err)
	}
	defer handle.Close()

	if s.opts.Fanout {
		if err := handle.SetFanout(afpacket.FanoutHashWithDefrag, s.opts.FanoutID); err != nil {
			return fmt.Errorf("failed to set fanout: %w", err)
		}
	}

	if s.opts.BPFFilter != "" {
		insns, err := compileBPF(s.opts.BPFFilter, s.opts.SnapLen)
		if err != nil {
			return err
		}
		if err := handle.SetBPF(insns); err != nil {
			return fmt.Errorf("failed to set BPF: %w", err)
		}
	}

	if err := handle.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "error", err)
	}

	slog.Info("afpacket capture started",
		"interface", s.opts.Interface,
		"worker", s.opts.Worker,
		"fanout", s.opts.Fanout,
		"frame_size", s.frameSize,
		"block_size", s.blockSize,
		"num_blocks", s.numBlocks)

	for {
		select {
		case <-ctx.Done():
			slog.Info("afpacket capture stopped", "interface", s.opts.Interface, "worker", s.opts.Worker)
			return nil
		default:
		}

		data, ci, err := handle.ReadPacketData()
		if err != nil {
			// Poll timeouts and EINTR land here as well.
			continue
		}
		s.received.Add(1)

		if _, v3, err := handle.SocketStats(); err == nil {
			s.kernelDrop.Store(uint64(v3.Drops()))
		}

		raw := core.RawPacket{
			Data:        data,
			Timestamp:   ci.Timestamp,
			CaptureLen:  uint32(ci.CaptureLength),
			OrigLen:     uint32(ci.Length),
			IngressPort: s.opts.IngressPort,
		}

		select {
		case out <- raw:
		case <-ctx.Done():
			return nil
		default:
			s.dropped.Add(1)
		}
	}
}

// Stats returns capture counters including kernel ring drops.
func (s *AFPacketSource) Stats() Stats {
	return Stats{
		Received: s.received.Load(),
		Dropped:  s.dropped.Load() + s.kernelDrop.Load(),
	}
}

// compileBPF compiles a tcpdump-style filter for Ethernet frames.
func compileBPF(filter string, snapLen int) ([]bpf.RawInstruction, error) {
	insns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to compile BPF filter %q: %w", filter, err)
	}

	raw := make([]bpf.RawInstruction, len(insns))
	for i, ins := range insns {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}
