package source

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/flowcache/internal/core"
)

// pcapng section header block type.
const ngMagic = 0x0A0D0D0A

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// FileSource replays a pcap or pcapng file. Replay is lossless: sends
// block until the pipeline accepts the frame.
type FileSource struct {
	path        string
	ingressPort uint16

	received atomic.Uint64
}

// NewFileSource creates a replay source for path.
func NewFileSource(path string, ingressPort uint16) *FileSource {
	return &FileSource{path: path, ingressPort: ingressPort}
}

// Name returns the source name.
func (s *FileSource) Name() string { return "pcap:" + s.path }

// Capture replays the whole file and returns nil at end of file.
func (s *FileSource) Capture(ctx context.Context, out chan<- core.RawPacket) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open pcap file %s: %w", s.path, err)
	}
	defer f.Close()

	r, err := openReader(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("failed to read pcap file %s: %w", s.path, err)
	}
	if lt := r.LinkType(); lt != layers.LinkTypeEthernet {
		return fmt.Errorf("%w: link type %s in %s", core.ErrUnsupportedProto, lt, s.path)
	}

	slog.Info("pcap replay started", "file", s.path)
	for {
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			slog.Info("pcap replay finished", "file", s.path, "packets", s.received.Load())
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read packet: %w", err)
		}

		raw := core.RawPacket{
			Data:        data,
			Timestamp:   ci.Timestamp,
			CaptureLen:  uint32(ci.CaptureLength),
			OrigLen:     uint32(ci.Length),
			IngressPort: s.ingressPort,
		}

		select {
		case out <- raw:
			s.received.Add(1)
		case <-ctx.Done():
			return nil
		}
	}
}

// Stats returns replay counters. Replay never drops.
func (s *FileSource) Stats() Stats {
	return Stats{Received: s.received.Load()}
}

func openReader(br *bufio.Reader) (packetReader, error) {
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(magic) == ngMagic {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}
