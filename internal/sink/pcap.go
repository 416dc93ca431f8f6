package sink

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/flowcache/internal/core"
)

type portFile struct {
	f  *os.File
	bw *bufio.Writer
	w  *pcapgo.Writer
}

// Pcap writes each egress port to its own file, port-<n>.pcap, under dir.
// Files are created on the first frame for a port.
type Pcap struct {
	dir     string
	snapLen int

	mu     sync.Mutex
	ports  map[uint16]*portFile
	closed bool
}

// NewPcap creates dir if needed.
func NewPcap(dir string, snapLen int) (*Pcap, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: egress dir is required for pcap egress", core.ErrConfigInvalid)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create egress dir: %w", err)
	}
	if snapLen <= 0 {
		snapLen = 65535
	}
	return &Pcap{dir: dir, snapLen: snapLen, ports: make(map[uint16]*portFile)}, nil
}

// Path returns the file a port is written to.
func (p *Pcap) Path(port uint16) string {
	return filepath.Join(p.dir, fmt.Sprintf("port-%d.pcap", port))
}

func (p *Pcap) Send(port uint16, frame []byte, ts time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return core.ErrSinkClosed
	}

	pf, err := p.open(port)
	if err != nil {
		return err
	}

	data := frame
	if len(data) > p.snapLen {
		data = data[:p.snapLen]
	}
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(frame)}
	return pf.w.WritePacket(ci, data)
}

func (p *Pcap) open(port uint16) (*portFile, error) {
	if pf, ok := p.ports[port]; ok {
		return pf, nil
	}

	f, err := os.Create(p.Path(port))
	if err != nil {
		return nil, fmt.Errorf("failed to create egress file: %w", err)
	}
	bw := bufio.NewWriter(f)
	w := pcapgo.NewWriter(bw)
	if err := w.WriteFileHeader(uint32(p.snapLen), layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}

	pf := &portFile{f: f, bw: bw, w: w}
	p.ports[port] = pf
	return pf, nil
}

// Close flushes and closes every port file.
func (p *Pcap) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, pf := range p.ports {
		if err := pf.bw.Flush(); err != nil {
			errs = append(errs, err)
		}
		if err := pf.f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
