// Package pipeline runs the per-packet data plane: decode, flow cache
// update, forwarding, deparse and egress.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/flowcache/internal/core"
	"firestige.xyz/flowcache/internal/core/decoder"
	"firestige.xyz/flowcache/internal/flowcache"
	"firestige.xyz/flowcache/internal/metrics"
	"firestige.xyz/flowcache/internal/sink"
)

// Forwarder decides the fate of a decoded packet and may rewrite its
// headers.
type Forwarder interface {
	Apply(pkt *core.DecodedPacket) core.Decision
}

// Pipeline is a single-goroutine processing chain. Several pipelines may
// share one Controller.
type Pipeline struct {
	id        int
	decoder   decoder.Decoder
	cache     *flowcache.Controller
	forwarder Forwarder
	sink      sink.Sink
	metrics   *Metrics

	// Owned by the Run goroutine.
	frame     []byte
	decisions map[core.Decision]prometheus.Counter

	prom promCounters
}

type promCounters struct {
	received, decoded, decodeErr, csumErr, parseErr prometheus.Counter
	observed, emitted, emitErr                      prometheus.Counter
	inserts, updates, regressions                   prometheus.Counter
	latency                                         prometheus.Observer
}

// Config contains pipeline configuration.
type Config struct {
	ID        int
	Decoder   decoder.Decoder
	Cache     *flowcache.Controller
	Forwarder Forwarder
	Sink      sink.Sink
}

// New creates a new pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("%w: pipeline %d has no flow cache", core.ErrConfigInvalid, cfg.ID)
	}
	if cfg.Forwarder == nil {
		return nil, fmt.Errorf("%w: pipeline %d has no forwarder", core.ErrConfigInvalid, cfg.ID)
	}
	if cfg.Decoder == nil {
		cfg.Decoder = decoder.NewStandardDecoder(decoder.Config{})
	}
	if cfg.Sink == nil {
		cfg.Sink = sink.NewDiscard()
	}

	label := strconv.Itoa(cfg.ID)
	stage := func(s string) prometheus.Counter {
		return metrics.PacketsTotal.WithLabelValues(label, s)
	}

	return &Pipeline{
		id:        cfg.ID,
		decoder:   cfg.Decoder,
		cache:     cfg.Cache,
		forwarder: cfg.Forwarder,
		sink:      cfg.Sink,
		metrics:   NewMetrics(cfg.ID),
		frame:     make([]byte, 0, 2048),
		decisions: make(map[core.Decision]prometheus.Counter),
		prom: promCounters{
			received:    stage(metrics.StageReceived),
			decoded:     stage(metrics.StageDecoded),
			decodeErr:   stage(metrics.StageDecodeError),
			csumErr:     stage(metrics.StageChecksumError),
			parseErr:    stage(metrics.StageParseError),
			observed:    stage(metrics.StageObserved),
			emitted:     stage(metrics.StageEmitted),
			emitErr:     stage(metrics.StageEmitError),
			inserts:     metrics.FlowEventsTotal.WithLabelValues("insert"),
			updates:     metrics.FlowEventsTotal.WithLabelValues("update"),
			regressions: metrics.TimestampRegressionsTotal,
			latency:     metrics.ProcessLatencySeconds.WithLabelValues(label),
		},
	}, nil
}

// ID returns the pipeline id.
func (p *Pipeline) ID() int { return p.id }

// Run consumes in until it is closed or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, in <-chan core.RawPacket) {
	slog.Debug("pipeline started", "pipeline_id", p.id)
	defer slog.Debug("pipeline stopped", "pipeline_id", p.id)

	for {
		select {
		case <-ctx.Done():
			return

		case raw, ok := <-in:
			if !ok {
				return
			}
			if err := p.processPacket(raw); err != nil {
				slog.Debug("packet processing failed", "pipeline_id", p.id, "error", err)
			}
		}
	}
}

// processPacket runs one frame through every stage.
func (p *Pipeline) processPacket(raw core.RawPacket) error {
	start := time.Now()
	defer func() { p.prom.latency.Observe(time.Since(start).Seconds()) }()

	p.metrics.Received.Add(1)
	p.prom.received.Inc()

	pkt, err := p.decoder.Decode(raw)
	if err != nil {
		p.metrics.DecodeErrors.Add(1)
		p.prom.decodeErr.Inc()
		return fmt.Errorf("decode failed: %w", err)
	}
	p.metrics.Decoded.Add(1)
	p.prom.decoded.Inc()

	if pkt.Headers.ChecksumError {
		p.metrics.ChecksumErrors.Add(1)
		p.prom.csumErr.Inc()
	}
	if pkt.Headers.ParseError {
		p.metrics.ParseErrors.Add(1)
		p.prom.parseErr.Inc()
	}

	if pkt.Headers.IPv4Valid {
		p.observe(&pkt)
	}

	d := p.forwarder.Apply(&pkt)
	p.countDecision(d)
	if d.Action != core.ActionForward {
		p.metrics.Dropped.Add(1)
		return nil
	}
	p.metrics.Forwarded.Add(1)

	p.frame = decoder.Deparse(p.frame[:0], &pkt)
	if err := p.sink.Send(d.EgressPort, p.frame, pkt.Timestamp); err != nil {
		p.metrics.EmitErrors.Add(1)
		p.prom.emitErr.Inc()
		return fmt.Errorf("emit on port %d failed: %w", d.EgressPort, err)
	}
	p.metrics.Emitted.Add(1)
	p.prom.emitted.Inc()
	return nil
}

func (p *Pipeline) observe(pkt *core.DecodedPacket) {
	res := p.cache.Observe(flowcache.ObservationFrom(pkt))

	p.metrics.Observed.Add(1)
	p.prom.observed.Inc()
	if res.Inserted {
		p.metrics.Inserted.Add(1)
		p.prom.inserts.Inc()
	} else {
		p.metrics.Updated.Add(1)
		p.prom.updates.Inc()
	}
	if res.Regressed {
		p.metrics.Regressed.Add(1)
		p.prom.regressions.Inc()
		slog.Debug("timestamp regression", "pipeline_id", p.id, "slot", res.Index.Int())
	}
	metrics.PacketCounter.Set(float64(p.cache.PacketCount()))
}

func (p *Pipeline) countDecision(d core.Decision) {
	key := core.Decision{Action: d.Action, Table: d.Table}
	c, ok := p.decisions[key]
	if !ok {
		c = metrics.ForwardDecisionsTotal.WithLabelValues(d.Action.String(), d.Table)
		p.decisions[key] = c
	}
	c.Inc()
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return p.metrics.Snapshot()
}
