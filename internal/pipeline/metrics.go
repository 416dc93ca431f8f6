package pipeline

import (
	"sync/atomic"
)

// Metrics contains per-pipeline counters.
type Metrics struct {
	PipelineID int

	Received       atomic.Uint64
	Decoded        atomic.Uint64
	DecodeErrors   atomic.Uint64
	ChecksumErrors atomic.Uint64
	ParseErrors    atomic.Uint64
	Observed       atomic.Uint64
	Inserted       atomic.Uint64
	Updated        atomic.Uint64
	Regressed      atomic.Uint64
	Forwarded      atomic.Uint64
	Dropped        atomic.Uint64
	Emitted        atomic.Uint64
	EmitErrors     atomic.Uint64
}

// NewMetrics creates a new metrics instance.
func NewMetrics(pipelineID int) *Metrics {
	return &Metrics{PipelineID: pipelineID}
}

// Snapshot loads every counter.
func (m *Metrics) Snapshot() Stats {
	return Stats{
		ID:             m.PipelineID,
		Received:       m.Received.Load(),
		Decoded:        m.Decoded.Load(),
		DecodeErrors:   m.DecodeErrors.Load(),
		ChecksumErrors: m.ChecksumErrors.Load(),
		ParseErrors:    m.ParseErrors.Load(),
		Observed:       m.Observed.Load(),
		Inserted:       m.Inserted.Load(),
		Updated:        m.Updated.Load(),
		Regressed:      m.Regressed.Load(),
		Forwarded:      m.Forwarded.Load(),
		Dropped:        m.Dropped.Load(),
		Emitted:        m.Emitted.Load(),
		EmitErrors:     m.EmitErrors.Load(),
	}
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Received.Store(0)
	m.Decoded.Store(0)
	m.DecodeErrors.Store(0)
	m.ChecksumErrors.Store(0)
	m.ParseErrors.Store(0)
	m.Observed.Store(0)
	m.Inserted.Store(0)
	m.Updated.Store(0)
	m.Regressed.Store(0)
	m.Forwarded.Store(0)
	m.Dropped.Store(0)
	m.Emitted.Store(0)
	m.EmitErrors.Store(0)
}

// Stats is a point-in-time copy of Metrics.
type Stats struct {
	ID             int    `json:"id"`
	Received       uint64 `json:"received"`
	Decoded        uint64 `json:"decoded"`
	DecodeErrors   uint64 `json:"decode_errors"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	ParseErrors    uint64 `json:"parse_errors"`
	Observed       uint64 `json:"observed"`
	Inserted       uint64 `json:"inserted"`
	Updated        uint64 `json:"updated"`
	Regressed      uint64 `json:"regressed"`
	Forwarded      uint64 `json:"forwarded"`
	Dropped        uint64 `json:"dropped"`
	Emitted        uint64 `json:"emitted"`
	EmitErrors     uint64 `json:"emit_errors"`
}

// Add accumulates o into s. ID is left untouched.
func (s *Stats) Add(o Stats) {
	s.Received += o.Received
	s.Decoded += o.Decoded
	s.DecodeErrors += o.DecodeErrors
	s.ChecksumErrors += o.ChecksumErrors
	s.ParseErrors += o.ParseErrors
	s.Observed += o.Observed
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Regressed += o.Regressed
	s.Forwarded += o.Forwarded
	s.Dropped += o.Dropped
	s.Emitted += o.Emitted
	s.EmitErrors += o.EmitErrors
}
