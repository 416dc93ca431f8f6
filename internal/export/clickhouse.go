package export

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"firestige.xyz/flowcache/internal/config"
	"firestige.xyz/flowcache/internal/core"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func createTableStatement(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    ExportedAt    DateTime64(6),
    Node          String,
    Tags          Map(String, String),
    PacketCounter UInt32,
    Slot          UInt32,
    SrcIP         String,
    DstIP         String,
    SrcPort       UInt16,
    DstPort       UInt16,
    FirstSeen     UInt64,
    LastSeen      UInt64,
    Duration      UInt64,
    TotalSize     UInt64
) ENGINE = MergeTree()
PARTITION BY toYYYYMMDD(ExportedAt)
ORDER BY (Node, Slot, ExportedAt);
`, table)
}

// ClickHouseExporter inserts one row per occupied slot per snapshot.
type ClickHouseExporter struct {
	conn  driver.Conn
	table string
}

// NewClickHouseExporter connects, pings and ensures the table exists.
func NewClickHouseExporter(ctx context.Context, cfg config.ClickHouseExportConfig) (*ClickHouseExporter, error) {
	if !identRe.MatchString(cfg.Table) {
		return nil, fmt.Errorf("%w: invalid clickhouse table name %q", core.ErrConfigInvalid, cfg.Table)
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, createTableStatement(cfg.Table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	slog.Info("clickhouse exporter ready", "addr", cfg.Addr, "database", cfg.Database, "table", cfg.Table)

	return newClickHouseExporter(conn, cfg.Table), nil
}

func newClickHouseExporter(conn driver.Conn, table string) *ClickHouseExporter {
	return &ClickHouseExporter{conn: conn, table: table}
}

func (e *ClickHouseExporter) Name() string { return "clickhouse" }

// Export sends the snapshot as a single batch.
func (e *ClickHouseExporter) Export(ctx context.Context, snap Snapshot) error {
	if len(snap.Records) == 0 {
		return nil
	}

	batch, err := e.conn.PrepareBatch(ctx, "INSERT INTO "+e.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, r := range snap.Records {
		m := newSlotMessage(&snap, r)
		err := batch.Append(
			snap.Time,
			m.Node,
			tags(m.Tags),
			m.PacketCounter,
			uint32(m.Slot),
			m.SrcIP,
			m.DstIP,
			m.SrcPort,
			m.DstPort,
			m.FirstSeen,
			m.LastSeen,
			m.Duration,
			m.TotalSize,
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append slot %d: %w", r.Slot, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// tags returns a non-nil map for the Map(String, String) column.
func tags(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func (e *ClickHouseExporter) Close() error {
	return e.conn.Close()
}
