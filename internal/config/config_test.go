package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HubURL != "http://localhost:8080" {
		t.Errorf("HubURL = %q", cfg.HubURL)
	}
	if cfg.RefreshInterval != time.Second {
		t.Errorf("RefreshInterval = %v, want 1s", cfg.RefreshInterval)
	}
	if len(cfg.BulkQueries) != 1 || cfg.BulkQueries[0] != "" {
		t.Errorf("BulkQueries = %q", cfg.BulkQueries)
	}
	if cfg.SnapshotSink != "file" {
		t.Errorf("SnapshotSink = %q", cfg.SnapshotSink)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HUBWATCH_HUB_URL", "http://hub.example:9000")
	t.Setenv("HUBWATCH_EXPAND_ALL", "true")
	t.Setenv("HUBWATCH_REFRESH_INTERVAL", "250ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HubURL != "http://hub.example:9000" {
		t.Errorf("HubURL = %q", cfg.HubURL)
	}
	if !cfg.ExpandAll {
		t.Error("ExpandAll not picked up from env")
	}
	if cfg.RefreshInterval != 250*time.Millisecond {
		t.Errorf("RefreshInterval = %v", cfg.RefreshInterval)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hubwatch.yaml")
	data := "hub_url: http://from-file:1234\nsnapshot_sink: s3\ns3_bucket: snaps\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HubURL != "http://from-file:1234" || cfg.SnapshotSink != "s3" || cfg.S3Bucket != "snaps" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad sink", map[string]string{"HUBWATCH_SNAPSHOT_SINK": "ftp"}},
		{"bad interval", map[string]string{"HUBWATCH_REFRESH_INTERVAL": "-1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
