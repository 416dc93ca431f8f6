package daemon

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"firestige.xyz/flowcache/internal/config"
)

func TestDaemon_ReloadLogLevel(t *testing.T) {
	env := newTestEnv(t, 1)
	capture := filepath.Join(env.dir, "in.pcap")

	d, err := New(Options{ConfigPath: env.configPath})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	env.writeConfig(t, "debug", 1024, capture)
	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if d.config.Log.Level != "debug" {
		t.Fatalf("expected level debug after reload, got %s", d.config.Log.Level)
	}
}

func TestDaemon_ReloadKeepsFlowTable(t *testing.T) {
	env := newTestEnv(t, 1)
	capture := filepath.Join(env.dir, "in.pcap")

	d, err := New(Options{ConfigPath: env.configPath})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	env.writeConfig(t, "info", 4096, capture)
	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if d.config.FlowTable.Capacity != 1024 || d.Controller().Capacity() != 1024 {
		t.Errorf("flow table resized by reload: config=%d table=%d",
			d.config.FlowTable.Capacity, d.Controller().Capacity())
	}
}

func TestDaemon_ReloadInvalidConfig(t *testing.T) {
	env := newTestEnv(t, 1)
	capture := filepath.Join(env.dir, "in.pcap")

	d, err := New(Options{ConfigPath: env.configPath})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	env.writeConfig(t, "verbose", 1024, capture)
	if err := d.Reload(); err == nil {
		t.Fatal("expected reload to reject invalid log level")
	}
	if d.config.Log.Level != "info" {
		t.Errorf("log level changed to %s by failed reload", d.config.Log.Level)
	}
}

func TestRestartSections(t *testing.T) {
	base := func() *config.GlobalConfig {
		return &config.GlobalConfig{
			Node:       config.NodeConfig{Hostname: "edge-1", Tags: map[string]string{"site": "lab"}},
			Control:    config.ControlConfig{Socket: "/run/fc.sock", PIDFile: "/run/fc.pid"},
			FlowTable:  config.FlowTableConfig{Capacity: 1024, LockStripes: 64},
			Capture:    config.CaptureConfig{Type: config.CaptureTypePcap, File: "in.pcap", Workers: 1},
			Forwarding: config.ForwardingConfig{Routes: []config.RouteConfig{{Prefix: "10.0.0.0/8", Port: 2}}},
			Egress:     config.EgressConfig{Type: config.EgressTypeDiscard},
			Export: config.ExportConfig{
				Interval: 10 * time.Second,
				Kafka:    config.KafkaExportConfig{Brokers: []string{"k1:9092"}, Topic: "slots"},
			},
			Metrics: config.MetricsConfig{Listen: ":9091", Path: "/metrics"},
			Log:     config.LogConfig{Level: "info", Format: "json"},
		}
	}

	tests := []struct {
		name   string
		change func(c *config.GlobalConfig)
		want   []string
	}{
		{"unchanged", func(*config.GlobalConfig) {}, []string{}},
		{"log only", func(c *config.GlobalConfig) { c.Log.Level = "debug" }, []string{}},
		{"node tags", func(c *config.GlobalConfig) { c.Node.Tags["site"] = "prod" }, []string{"node"}},
		{"control", func(c *config.GlobalConfig) { c.Control.Socket = "/tmp/other.sock" }, []string{"control"}},
		{"flow table", func(c *config.GlobalConfig) { c.FlowTable.Capacity = 2048 }, []string{"flow_table"}},
		{"capture", func(c *config.GlobalConfig) { c.Capture.Workers = 4 }, []string{"capture"}},
		{"decoder", func(c *config.GlobalConfig) { c.Decoder.SkipChecksum = true }, []string{"decoder"}},
		{"forwarding", func(c *config.GlobalConfig) { c.Forwarding.Routes[0].Port = 3 }, []string{"forwarding"}},
		{"egress", func(c *config.GlobalConfig) { c.Egress.Type = config.EgressTypePcap }, []string{"egress"}},
		{"export brokers", func(c *config.GlobalConfig) { c.Export.Kafka.Brokers = []string{"k2:9092"} }, []string{"export"}},
		{"export interval", func(c *config.GlobalConfig) { c.Export.Interval = time.Minute }, []string{"export"}},
		{"metrics", func(c *config.GlobalConfig) { c.Metrics.Enabled = true }, []string{"metrics"}},
		{"several", func(c *config.GlobalConfig) {
			c.Egress.Dir = "/tmp/out"
			c.Decoder.SkipChecksum = true
		}, []string{"decoder", "egress"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := base()
			tt.change(next)
			got := restartSections(base(), next)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("restartSections = %v, want %v", got, tt.want)
			}
		})
	}
}
