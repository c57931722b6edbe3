// Package config loads hubwatch configuration from environment variables and
// an optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all hubwatch configuration.
type Config struct {
	// Hub
	HubURL   string
	HubToken string

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics (empty disables the listener)
	MetricsAddr string

	// Runtime
	RefreshInterval time.Duration
	ExpandAll       bool
	BulkQueries     []string
	CaseSensitive   bool

	// Snapshot sink ("file" or "s3"); SnapshotPath is the file sink directory
	SnapshotSink string
	SnapshotPath string

	// S3 snapshot sink
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
}

// Defaults registers default values on v.
func Defaults(v *viper.Viper) {
	v.SetDefault("hub_url", "http://localhost:8080")
	v.SetDefault("hub_token", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "auto")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("refresh_interval", time.Second)
	v.SetDefault("expand_all", false)
	v.SetDefault("bulk_queries", []string{""})
	v.SetDefault("case_sensitive", false)
	v.SetDefault("snapshot_sink", "file")
	v.SetDefault("snapshot_path", "snapshots")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_bucket", "hubwatch")
	v.SetDefault("s3_access_key", "")
	v.SetDefault("s3_secret_key", "")
	v.SetDefault("s3_region", "us-east-1")
}

// New returns a viper instance reading HUBWATCH_* environment variables and,
// if cfgFile is set, that file.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	Defaults(v)

	v.SetEnvPrefix("HUBWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}
	return v, nil
}

// Load reads configuration from environment variables (and cfgFile) with defaults.
func Load(cfgFile string) (*Config, error) {
	v, err := New(cfgFile)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper builds a validated Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HubURL:          v.GetString("hub_url"),
		HubToken:        v.GetString("hub_token"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		MetricsAddr:     v.GetString("metrics_addr"),
		RefreshInterval: v.GetDuration("refresh_interval"),
		ExpandAll:       v.GetBool("expand_all"),
		BulkQueries:     v.GetStringSlice("bulk_queries"),
		CaseSensitive:   v.GetBool("case_sensitive"),
		SnapshotSink:    v.GetString("snapshot_sink"),
		SnapshotPath:    v.GetString("snapshot_path"),
		S3Endpoint:      v.GetString("s3_endpoint"),
		S3Bucket:        v.GetString("s3_bucket"),
		S3AccessKey:     v.GetString("s3_access_key"),
		S3SecretKey:     v.GetString("s3_secret_key"),
		S3Region:        v.GetString("s3_region"),
	}

	if cfg.HubURL == "" {
		return nil, fmt.Errorf("hub_url is required")
	}
	if cfg.RefreshInterval <= 0 {
		return nil, fmt.Errorf("refresh_interval must be positive, got %s", cfg.RefreshInterval)
	}
	if len(cfg.BulkQueries) == 0 {
		// An empty substring matches every terminal.
		cfg.BulkQueries = []string{""}
	}
	switch cfg.SnapshotSink {
	case "file":
		if cfg.SnapshotPath == "" {
			return nil, fmt.Errorf("snapshot_path is required for the file sink")
		}
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3_bucket is required for the s3 sink")
		}
	default:
		return nil, fmt.Errorf("unknown snapshot_sink %q (want file or s3)", cfg.SnapshotSink)
	}

	return cfg, nil
}
