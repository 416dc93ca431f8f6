// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/flowcache/internal/core"
)

// GlobalConfig represents the top-level static configuration.
// Maps to the `flowcache:` root key in YAML.
type GlobalConfig struct {
	Node       NodeConfig       `mapstructure:"node"`
	Control    ControlConfig    `mapstructure:"control"`
	FlowTable  FlowTableConfig  `mapstructure:"flow_table"`
	Capture    CaptureConfig    `mapstructure:"capture"`
	Decoder    DecoderConfig    `mapstructure:"decoder"`
	Forwarding ForwardingConfig `mapstructure:"forwarding"`
	Egress     EgressConfig     `mapstructure:"egress"`
	Export     ExportConfig     `mapstructure:"export"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	Hostname string            `mapstructure:"hostname"` // Empty = os.Hostname()
	Tags     map[string]string `mapstructure:"tags"`
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Flow Table ───

// FlowTableConfig sizes the flow cache.
type FlowTableConfig struct {
	Capacity    int `mapstructure:"capacity"`     // 1..65536
	LockStripes int `mapstructure:"lock_stripes"` // slot lock stripes
}

// ─── Capture ───

// Capture source types.
const (
	CaptureTypePcap     = "pcap"
	CaptureTypeAFPacket = "afpacket"
)

// Dispatch modes.
const (
	DispatchModeBinding  = "binding"  // one source per pipeline (afpacket fanout)
	DispatchModeDispatch = "dispatch" // one source, packets distributed to pipelines
)

// CaptureConfig selects and tunes the packet source.
type CaptureConfig struct {
	Type             string `mapstructure:"type"`              // pcap / afpacket
	File             string `mapstructure:"file"`              // pcap replay file
	Interface        string `mapstructure:"interface"`         // afpacket interface
	BPFFilter        string `mapstructure:"bpf_filter"`        // e.g. "tcp"
	SnapLen          int    `mapstructure:"snap_len"`          // default 65535
	BufferSizeMB     int    `mapstructure:"buffer_size_mb"`    // afpacket ring size
	FanoutID         uint16 `mapstructure:"fanout_id"`         // afpacket fanout group
	IngressPort      uint16 `mapstructure:"ingress_port"`      // logical ingress port stamped on packets
	Workers          int    `mapstructure:"workers"`           // pipeline parallelism
	DispatchMode     string `mapstructure:"dispatch_mode"`     // binding / dispatch
	DispatchStrategy string `mapstructure:"dispatch_strategy"` // slot-affinity / consistent-hash / round-robin
	ChannelCapacity  int    `mapstructure:"channel_capacity"`  // per-pipeline raw packet channel
}

// ─── Decoder ───

// DecoderConfig configures the header parser.
type DecoderConfig struct {
	SkipChecksum bool `mapstructure:"skip_checksum"`
}

// ─── Forwarding ───

// ForwardingConfig holds the match-action table entries.
type ForwardingConfig struct {
	PortRules []PortRuleConfig `mapstructure:"port_rules"`
	Routes    []RouteConfig    `mapstructure:"routes"`
}

// PortRuleConfig is one exact-match ingress port entry.
type PortRuleConfig struct {
	IngressPort uint16 `mapstructure:"ingress_port"`
	EgressPort  uint16 `mapstructure:"egress_port"`
}

// RouteConfig is one longest-prefix-match entry.
type RouteConfig struct {
	Prefix string `mapstructure:"prefix"`  // e.g. 10.0.1.0/24
	DstMAC string `mapstructure:"dst_mac"` // next hop MAC
	Port   uint16 `mapstructure:"port"`    // egress port
}

// ─── Egress ───

// Egress sink types.
const (
	EgressTypePcap    = "pcap"
	EgressTypeDiscard = "discard"
)

// EgressConfig selects where forwarded frames go.
type EgressConfig struct {
	Type    string `mapstructure:"type"` // pcap / discard
	Dir     string `mapstructure:"dir"`  // pcap output directory
	SnapLen int    `mapstructure:"snap_len"`
}

// ─── Export ───

// ExportConfig controls periodic flow table snapshots.
type ExportConfig struct {
	Interval   time.Duration          `mapstructure:"interval"`
	Kafka      KafkaExportConfig      `mapstructure:"kafka"`
	ClickHouse ClickHouseExportConfig `mapstructure:"clickhouse"`
}

// KafkaExportConfig configures the Kafka snapshot exporter.
type KafkaExportConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	Compression  string        `mapstructure:"compression"` // none / gzip / snappy / lz4 / zstd
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// ClickHouseExportConfig configures the ClickHouse snapshot exporter.
type ClickHouseExportConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Addr     []string `mapstructure:"addr"`
	Database string   `mapstructure:"database"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	Table    string   `mapstructure:"table"`
}

// Enabled reports whether any exporter is configured.
func (e ExportConfig) Enabled() bool {
	return e.Kafka.Enabled || e.ClickHouse.Enabled
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `flowcache: ...`.
type configRoot struct {
	FlowCache GlobalConfig `mapstructure:"flowcache"`
}

// Load loads configuration from file.
// The YAML file uses `flowcache:` as root key; env vars map through the key
// replacer (e.g., key "flowcache.log.level" → env "FLOWCACHE_LOG_LEVEL").
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.FlowCache

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "flowcache." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Control defaults
	v.SetDefault("flowcache.control.pid_file", "/var/run/flowcache.pid")
	v.SetDefault("flowcache.control.socket", "/var/run/flowcache.sock")

	// Flow table defaults
	v.SetDefault("flowcache.flow_table.capacity", 65536)
	v.SetDefault("flowcache.flow_table.lock_stripes", 256)

	// Capture defaults
	v.SetDefault("flowcache.capture.type", CaptureTypePcap)
	v.SetDefault("flowcache.capture.snap_len", 65535)
	v.SetDefault("flowcache.capture.buffer_size_mb", 8)
	v.SetDefault("flowcache.capture.fanout_id", 42)
	v.SetDefault("flowcache.capture.workers", 1)
	v.SetDefault("flowcache.capture.dispatch_mode", DispatchModeBinding)
	v.SetDefault("flowcache.capture.dispatch_strategy", "slot-affinity")
	v.SetDefault("flowcache.capture.channel_capacity", 4096)

	// Egress defaults
	v.SetDefault("flowcache.egress.type", EgressTypeDiscard)
	v.SetDefault("flowcache.egress.dir", "/var/lib/flowcache/egress")
	v.SetDefault("flowcache.egress.snap_len", 65535)

	// Export defaults
	v.SetDefault("flowcache.export.interval", "10s")
	v.SetDefault("flowcache.export.kafka.topic", "flowcache-slots")
	v.SetDefault("flowcache.export.kafka.compression", "snappy")
	v.SetDefault("flowcache.export.kafka.batch_size", 1000)
	v.SetDefault("flowcache.export.kafka.batch_timeout", "1s")
	v.SetDefault("flowcache.export.clickhouse.database", "default")
	v.SetDefault("flowcache.export.clickhouse.username", "default")
	v.SetDefault("flowcache.export.clickhouse.table", "flow_slots")

	// Log defaults
	v.SetDefault("flowcache.log.level", "info")
	v.SetDefault("flowcache.log.format", "json")
	v.SetDefault("flowcache.log.outputs.file.enabled", false)
	v.SetDefault("flowcache.log.outputs.file.path", "/var/log/flowcache/flowcache.log")
	v.SetDefault("flowcache.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("flowcache.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("flowcache.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("flowcache.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("flowcache.metrics.enabled", true)
	v.SetDefault("flowcache.metrics.listen", ":9091")
	v.SetDefault("flowcache.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Node hostname auto-detect ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	// ── Flow table ──
	if cfg.FlowTable.Capacity < 1 || cfg.FlowTable.Capacity > 1<<16 {
		return fmt.Errorf("%w: flow_table.capacity %d not in [1, 65536]", core.ErrConfigInvalid, cfg.FlowTable.Capacity)
	}
	if cfg.FlowTable.LockStripes < 1 {
		cfg.FlowTable.LockStripes = 1
	}

	if err := cfg.Capture.validate(); err != nil {
		return err
	}
	if err := cfg.Forwarding.validate(); err != nil {
		return err
	}

	// ── Egress ──
	switch cfg.Egress.Type {
	case EgressTypeDiscard:
	case EgressTypePcap:
		if cfg.Egress.Dir == "" {
			return fmt.Errorf("%w: egress.dir is required for pcap egress", core.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported egress.type: %s (must be pcap/discard)", core.ErrConfigInvalid, cfg.Egress.Type)
	}
	if cfg.Egress.SnapLen <= 0 {
		cfg.Egress.SnapLen = 65535
	}

	return cfg.Export.validate()
}

func (c *CaptureConfig) validate() error {
	switch c.Type {
	case CaptureTypePcap:
		if c.File == "" {
			return fmt.Errorf("%w: capture.file is required for pcap capture", core.ErrConfigInvalid)
		}
	case CaptureTypeAFPacket:
		if c.Interface == "" {
			return fmt.Errorf("%w: capture.interface is required for afpacket capture", core.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported capture.type: %s (must be pcap/afpacket)", core.ErrConfigInvalid, c.Type)
	}

	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.SnapLen <= 0 {
		c.SnapLen = 65535
	}
	if c.ChannelCapacity <= 0 {
		c.ChannelCapacity = 4096
	}
	if c.DispatchMode == "" {
		c.DispatchMode = DispatchModeBinding
	}
	if c.DispatchMode != DispatchModeBinding && c.DispatchMode != DispatchModeDispatch {
		return fmt.Errorf("%w: capture.dispatch_mode must be 'binding' or 'dispatch', got %q", core.ErrConfigInvalid, c.DispatchMode)
	}
	switch c.DispatchStrategy {
	case "":
		c.DispatchStrategy = "slot-affinity"
	case "slot-affinity", "consistent-hash", "round-robin":
	default:
		return fmt.Errorf("%w: unsupported capture.dispatch_strategy: %s", core.ErrConfigInvalid, c.DispatchStrategy)
	}
	// A replayed file cannot be opened once per pipeline.
	if c.Type == CaptureTypePcap && c.Workers > 1 {
		c.DispatchMode = DispatchModeDispatch
	}
	return nil
}

func (f *ForwardingConfig) validate() error {
	for i, r := range f.Routes {
		pfx, err := netip.ParsePrefix(r.Prefix)
		if err != nil {
			return fmt.Errorf("%w: forwarding.routes[%d]: %v", core.ErrConfigInvalid, i, err)
		}
		if !pfx.Addr().Is4() {
			return fmt.Errorf("%w: forwarding.routes[%d]: %s is not an IPv4 prefix", core.ErrConfigInvalid, i, r.Prefix)
		}
		if _, err := net.ParseMAC(r.DstMAC); err != nil {
			return fmt.Errorf("%w: forwarding.routes[%d]: %v", core.ErrConfigInvalid, i, err)
		}
	}

	seen := make(map[uint16]bool, len(f.PortRules))
	for i, r := range f.PortRules {
		if seen[r.IngressPort] {
			return fmt.Errorf("%w: forwarding.port_rules[%d]: duplicate ingress_port %d", core.ErrConfigInvalid, i, r.IngressPort)
		}
		seen[r.IngressPort] = true
	}
	return nil
}

func (e *ExportConfig) validate() error {
	if !e.Enabled() {
		return nil
	}
	if e.Interval <= 0 {
		return fmt.Errorf("%w: export.interval must be positive", core.ErrConfigInvalid)
	}
	if e.Kafka.Enabled {
		if len(e.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: export.kafka.brokers is required when export.kafka.enabled=true", core.ErrConfigInvalid)
		}
		if e.Kafka.Topic == "" {
			return fmt.Errorf("%w: export.kafka.topic is required when export.kafka.enabled=true", core.ErrConfigInvalid)
		}
	}
	if e.ClickHouse.Enabled && len(e.ClickHouse.Addr) == 0 {
		return fmt.Errorf("%w: export.clickhouse.addr is required when export.clickhouse.enabled=true", core.ErrConfigInvalid)
	}
	return nil
}
