// Package export periodically ships read-only snapshots of the flow table
// to external stores. Nothing is ever loaded back.
package export

import (
	"context"
	"log/slog"
	"time"

	"firestige.xyz/flowcache/internal/flowcache"
	"firestige.xyz/flowcache/internal/metrics"
)

// Table is the read side of the flow cache used for snapshots.
type Table interface {
	Records(offset, limit int) []flowcache.Record
	PacketCount() uint32
	Capacity() int
}

// Node identifies the exporting daemon in every exported slot.
type Node struct {
	Name string
	Tags map[string]string
}

// Snapshot is every occupied slot at one instant. Slots are individually
// consistent; the set is not an atomic cut of the table.
type Snapshot struct {
	Time     time.Time
	Node     Node
	Capacity int
	Packets  uint32
	Records  []flowcache.Record
}

// Take reads all occupied slots of t.
func Take(t Table, node Node, now time.Time) Snapshot {
	return Snapshot{
		Time:     now,
		Node:     node,
		Capacity: t.Capacity(),
		Packets:  t.PacketCount(),
		Records:  t.Records(0, 0),
	}
}

// Exporter writes snapshots somewhere.
type Exporter interface {
	Name() string
	Export(ctx context.Context, snap Snapshot) error
	Close() error
}

// Scheduler takes a snapshot every interval and hands it to each
// exporter. Export failures are logged and counted only.
type Scheduler struct {
	table     Table
	node      Node
	interval  time.Duration
	exporters []Exporter
	now       func() time.Time
}

// NewScheduler creates a scheduler. With no exporters it still refreshes
// the occupancy gauge.
func NewScheduler(table Table, node Node, interval time.Duration, exporters ...Exporter) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Scheduler{
		table:     table,
		node:      node,
		interval:  interval,
		exporters: exporters,
		now:       time.Now,
	}
}

// Run ticks until ctx is cancelled, then performs a final export and
// closes every exporter.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.ExportOnce(flushCtx)
			cancel()
			s.Close()
			return
		case <-ticker.C:
			s.ExportOnce(ctx)
		}
	}
}

// ExportOnce takes one snapshot and runs every exporter on it. It returns
// the number of exporters that failed.
func (s *Scheduler) ExportOnce(ctx context.Context) int {
	snap := Take(s.table, s.node, s.now())
	metrics.FlowTableOccupancy.Set(float64(len(snap.Records)))
	metrics.PacketCounter.Set(float64(snap.Packets))

	failed := 0
	for _, e := range s.exporters {
		if err := e.Export(ctx, snap); err != nil {
			failed++
			metrics.ExportErrorsTotal.WithLabelValues(e.Name()).Inc()
			slog.Warn("export failed", "exporter", e.Name(), "slots", len(snap.Records), "error", err)
			continue
		}
		metrics.ExportedSlotsTotal.WithLabelValues(e.Name()).Add(float64(len(snap.Records)))
		slog.Debug("export done", "exporter", e.Name(), "slots", len(snap.Records))
	}
	return failed
}

// Close closes every exporter.
func (s *Scheduler) Close() {
	for _, e := range s.exporters {
		if err := e.Close(); err != nil {
			slog.Warn("error closing exporter", "exporter", e.Name(), "error", err)
		}
	}
}
