package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"firestige.xyz/flowcache/internal/config"
	"firestige.xyz/flowcache/internal/core"
	"firestige.xyz/flowcache/internal/flowcache"
	"firestige.xyz/flowcache/internal/metrics"
	"firestige.xyz/flowcache/internal/source"
)

// SourceFactory opens the source for a worker. In dispatch mode it is
// called once with worker 0.
type SourceFactory func(worker int) (source.Source, error)

// GroupConfig wires sources to pipelines sharing one flow cache.
type GroupConfig struct {
	Capture   config.CaptureConfig
	NewSource SourceFactory
	Pipeline  Config // template, ID is assigned per worker
	Strategy  DispatchStrategy
}

// Group runs the sources and pipelines of the data plane.
//
// In binding mode every pipeline owns a source. In dispatch mode a single
// source feeds a dispatcher that routes each frame to a pipeline chosen by
// the DispatchStrategy.
type Group struct {
	mode      string
	pipelines []*Pipeline
	sources   []source.Source
	streams   []chan core.RawPacket
	captureCh chan core.RawPacket
	strategy  DispatchStrategy

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	capturing atomic.Int32
	errMu     sync.Mutex
	errs      []error
}

// NewGroup opens sources and builds pipelines without starting them.
func NewGroup(cfg GroupConfig) (*Group, error) {
	workers := max(1, cfg.Capture.Workers)
	capacity := cfg.Capture.ChannelCapacity
	if capacity <= 0 {
		capacity = 4096
	}
	mode := cfg.Capture.DispatchMode
	if mode == "" {
		mode = config.DispatchModeBinding
	}

	g := &Group{
		mode:     mode,
		strategy: cfg.Strategy,
		streams:  make([]chan core.RawPacket, workers),
		done:     make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		tmpl := cfg.Pipeline
		tmpl.ID = i
		p, err := New(tmpl)
		if err != nil {
			return nil, err
		}
		g.pipelines = append(g.pipelines, p)
		g.streams[i] = make(chan core.RawPacket, capacity)
	}

	nsrc := workers
	if mode == config.DispatchModeDispatch {
		nsrc = 1
		g.captureCh = make(chan core.RawPacket, capacity)
		if g.strategy == nil {
			var h *flowcache.Hasher
			if cfg.Pipeline.Cache != nil {
				h = cfg.Pipeline.Cache.Hasher()
			}
			g.strategy = NewDispatchStrategy(cfg.Capture.DispatchStrategy, h)
		}
	}
	for i := 0; i < nsrc; i++ {
		src, err := cfg.NewSource(i)
		if err != nil {
			return nil, fmt.Errorf("open source %d: %w", i, err)
		}
		g.sources = append(g.sources, src)
	}

	return g, nil
}

// Start launches pipelines first, then the dispatcher, then the sources,
// so every frame has a consumer.
func (g *Group) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)

	var pipelines sync.WaitGroup
	for i, p := range g.pipelines {
		pipelines.Add(1)
		go func(p *Pipeline, in <-chan core.RawPacket) {
			defer pipelines.Done()
			p.Run(ctx, in)
		}(p, g.streams[i])
	}

	if g.mode == config.DispatchModeDispatch {
		g.wg.Add(1)
		go g.dispatchLoop(ctx)
		g.startSource(ctx, g.sources[0], g.captureCh)
	} else {
		for i, src := range g.sources {
			g.startSource(ctx, src, g.streams[i])
		}
	}

	go func() {
		g.wg.Wait()
		pipelines.Wait()
		close(g.done)
	}()

	slog.Info("pipelines started",
		"pipelines", len(g.pipelines),
		"sources", len(g.sources),
		"dispatch_mode", g.mode)
}

func (g *Group) startSource(ctx context.Context, src source.Source, out chan core.RawPacket) {
	g.wg.Add(1)
	g.capturing.Add(1)
	go func() {
		defer g.wg.Done()
		// Closing out lets the consumer drain what was captured.
		defer close(out)
		defer g.capturing.Add(-1)

		if err := src.Capture(ctx, out); err != nil && ctx.Err() == nil {
			slog.Error("capture failed", "source", src.Name(), "error", err)
			g.errMu.Lock()
			g.errs = append(g.errs, fmt.Errorf("%s: %w", src.Name(), err))
			g.errMu.Unlock()
		}
		stats := src.Stats()
		metrics.CaptureDropsTotal.WithLabelValues(src.Name()).Add(float64(stats.Dropped))
		slog.Info("source finished", "source", src.Name(), "received", stats.Received, "dropped", stats.Dropped)
	}()
}

// dispatchLoop routes frames from the shared capture channel. Sends block
// so the source sees backpressure; live sources drop on their side.
func (g *Group) dispatchLoop(ctx context.Context) {
	defer g.wg.Done()
	defer func() {
		for _, ch := range g.streams {
			close(ch)
		}
	}()

	n := len(g.streams)
	for pkt := range g.captureCh {
		i := g.strategy.Dispatch(pkt, n)
		select {
		case g.streams[i] <- pkt:
		case <-ctx.Done():
			return
		}
	}
	slog.Debug("dispatch loop exited", "strategy", g.strategy.Name())
}

// Done is closed once every source, the dispatcher and every pipeline
// have returned.
func (g *Group) Done() <-chan struct{} { return g.done }

// Stop cancels capture and processing and waits for all goroutines.
func (g *Group) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	<-g.done
}

// Err returns the capture errors collected so far.
func (g *Group) Err() error {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	switch len(g.errs) {
	case 0:
		return nil
	case 1:
		return g.errs[0]
	default:
		return fmt.Errorf("%d sources failed, first: %w", len(g.errs), g.errs[0])
	}
}

// Capturing reports how many sources are still running.
func (g *Group) Capturing() int { return int(g.capturing.Load()) }

// GroupStats aggregates pipeline and source counters.
type GroupStats struct {
	Mode      string        `json:"dispatch_mode"`
	Strategy  string        `json:"dispatch_strategy,omitempty"`
	Total     Stats         `json:"total"`
	Pipelines []Stats       `json:"pipelines"`
	Sources   []SourceStats `json:"sources"`
}

// SourceStats names a source's counters.
type SourceStats struct {
	Name string `json:"name"`
	source.Stats
}

// Stats returns a snapshot of every pipeline and source.
func (g *Group) Stats() GroupStats {
	gs := GroupStats{Mode: g.mode}
	if g.strategy != nil {
		gs.Strategy = g.strategy.Name()
	}
	gs.Total.ID = -1
	for _, p := range g.pipelines {
		s := p.Stats()
		gs.Pipelines = append(gs.Pipelines, s)
		gs.Total.Add(s)
	}
	for _, src := range g.sources {
		gs.Sources = append(gs.Sources, SourceStats{Name: src.Name(), Stats: src.Stats()})
	}
	return gs
}
