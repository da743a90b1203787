// Package config loads the closed set of options in SPEC_FULL.md §6,
// layered default < file < environment < explicit override, following the
// teacher's ValueSource precedence model.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// Config is the closed set of options a service or worker process accepts.
type Config struct {
	RedisURL    string `mapstructure:"redis_url" yaml:"redis_url"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`

	StreamName   string `mapstructure:"stream_name" yaml:"stream_name"`
	GroupName    string `mapstructure:"group_name" yaml:"group_name"`
	ConsumerName string `mapstructure:"consumer_name" yaml:"consumer_name"`

	BlockMS time.Duration `mapstructure:"block_ms" yaml:"block_ms"`
	Count   int64         `mapstructure:"count" yaml:"count"`

	ReclaimPending bool          `mapstructure:"reclaim_pending" yaml:"reclaim_pending"`
	ReclaimIdleMS  time.Duration `mapstructure:"reclaim_idle_ms" yaml:"reclaim_idle_ms"`

	StatusDelta      float64 `mapstructure:"status_delta" yaml:"status_delta"`
	ResultTTLSeconds int     `mapstructure:"result_ttl_seconds" yaml:"result_ttl_seconds"`

	WorkerConcurrency int      `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	WorkerQueues      []string `mapstructure:"worker_queues" yaml:"worker_queues"`

	HTTPAddr string `mapstructure:"http_addr" yaml:"http_addr"`

	// sources records, per-field name, which layer produced the final value.
	// Populated best-effort for observability/debugging, not correctness.
	sources map[string]ValueSource
}

// SourceOf reports which layer produced field's current value.
func (c *Config) SourceOf(field string) ValueSource {
	if c.sources == nil {
		return SourceDefault
	}
	if src, ok := c.sources[field]; ok {
		return src
	}
	return SourceDefault
}

func defaults() *Config {
	return &Config{
		RedisURL:          "redis://localhost:6379/0",
		DatabaseURL:       "postgres://localhost:5432/taskhub",
		StreamName:        "task_events",
		GroupName:         "api",
		ConsumerName:      "",
		BlockMS:           5000 * time.Millisecond,
		Count:             10,
		ReclaimPending:    false,
		ReclaimIdleMS:     60000 * time.Millisecond,
		StatusDelta:       0.02,
		ResultTTLSeconds:  3600,
		WorkerConcurrency: 1,
		WorkerQueues:      []string{"default"},
		HTTPAddr:          ":8080",
		sources:           map[string]ValueSource{},
	}
}

// Load builds a Config from defaults, an optional YAML file at path (if
// non-empty and readable), environment variables prefixed TASKHUB_, and
// explicit overrides applied last.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if err := mergeFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("taskhub")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	mergeEnv(cfg, v)

	for _, opt := range overrides {
		opt(cfg)
	}

	if cfg.ConsumerName == "" {
		cfg.ConsumerName = generateConsumerName()
	}

	return cfg, validate(cfg)
}

func mergeFile(cfg *Config, path string) error {
	raw, err := readFile(path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	applyNonZero(cfg, &fileCfg, SourceFile)
	return nil
}

func mergeEnv(cfg *Config, v *viper.Viper) {
	bindings := map[string]*string{
		"redis_url":     &cfg.RedisURL,
		"database_url":  &cfg.DatabaseURL,
		"stream_name":   &cfg.StreamName,
		"group_name":    &cfg.GroupName,
		"consumer_name": &cfg.ConsumerName,
	}
	for key, field := range bindings {
		if val := v.GetString(key); val != "" {
			*field = val
			cfg.sources[key] = SourceEnv
		}
	}
	if v.IsSet("block_ms") {
		cfg.BlockMS = time.Duration(v.GetInt64("block_ms")) * time.Millisecond
		cfg.sources["block_ms"] = SourceEnv
	}
	if v.IsSet("count") {
		cfg.Count = v.GetInt64("count")
		cfg.sources["count"] = SourceEnv
	}
	if v.IsSet("reclaim_pending") {
		cfg.ReclaimPending = v.GetBool("reclaim_pending")
		cfg.sources["reclaim_pending"] = SourceEnv
	}
	if v.IsSet("reclaim_idle_ms") {
		cfg.ReclaimIdleMS = time.Duration(v.GetInt64("reclaim_idle_ms")) * time.Millisecond
		cfg.sources["reclaim_idle_ms"] = SourceEnv
	}
	if v.IsSet("status_delta") {
		cfg.StatusDelta = v.GetFloat64("status_delta")
		cfg.sources["status_delta"] = SourceEnv
	}
	if v.IsSet("result_ttl_seconds") {
		cfg.ResultTTLSeconds = v.GetInt("result_ttl_seconds")
		cfg.sources["result_ttl_seconds"] = SourceEnv
	}
	if v.IsSet("worker_concurrency") {
		cfg.WorkerConcurrency = v.GetInt("worker_concurrency")
		cfg.sources["worker_concurrency"] = SourceEnv
	}
	if v.IsSet("worker_queues") {
		if raw := v.GetString("worker_queues"); raw != "" {
			cfg.WorkerQueues = strings.Split(raw, ",")
			cfg.sources["worker_queues"] = SourceEnv
		}
	}
	if v.IsSet("http_addr") {
		cfg.HTTPAddr = v.GetString("http_addr")
		cfg.sources["http_addr"] = SourceEnv
	}
}

func applyNonZero(dst, src *Config, source ValueSource) {
	if src.RedisURL != "" {
		dst.RedisURL = src.RedisURL
		dst.sources["redis_url"] = source
	}
	if src.DatabaseURL != "" {
		dst.DatabaseURL = src.DatabaseURL
		dst.sources["database_url"] = source
	}
	if src.StreamName != "" {
		dst.StreamName = src.StreamName
		dst.sources["stream_name"] = source
	}
	if src.GroupName != "" {
		dst.GroupName = src.GroupName
		dst.sources["group_name"] = source
	}
	if src.ConsumerName != "" {
		dst.ConsumerName = src.ConsumerName
		dst.sources["consumer_name"] = source
	}
	if src.BlockMS != 0 {
		dst.BlockMS = src.BlockMS
		dst.sources["block_ms"] = source
	}
	if src.Count != 0 {
		dst.Count = src.Count
		dst.sources["count"] = source
	}
	if src.ReclaimIdleMS != 0 {
		dst.ReclaimIdleMS = src.ReclaimIdleMS
		dst.sources["reclaim_idle_ms"] = source
	}
	if src.StatusDelta != 0 {
		dst.StatusDelta = src.StatusDelta
		dst.sources["status_delta"] = source
	}
	if src.ResultTTLSeconds != 0 {
		dst.ResultTTLSeconds = src.ResultTTLSeconds
		dst.sources["result_ttl_seconds"] = source
	}
	if src.WorkerConcurrency != 0 {
		dst.WorkerConcurrency = src.WorkerConcurrency
		dst.sources["worker_concurrency"] = source
	}
	if len(src.WorkerQueues) != 0 {
		dst.WorkerQueues = src.WorkerQueues
		dst.sources["worker_queues"] = source
	}
	if src.HTTPAddr != "" {
		dst.HTTPAddr = src.HTTPAddr
		dst.sources["http_addr"] = source
	}
	// ReclaimPending's zero value (false) is indistinguishable from "unset"
	// for a bool field; file-level overrides of it are applied by callers
	// via an explicit override function instead.
}

func validate(cfg *Config) error {
	if cfg.StatusDelta <= 0 || cfg.StatusDelta > 1 {
		return fmt.Errorf("status_delta must be in (0, 1], got %v", cfg.StatusDelta)
	}
	if cfg.WorkerConcurrency < 1 {
		return fmt.Errorf("worker_concurrency must be >= 1, got %d", cfg.WorkerConcurrency)
	}
	if cfg.Count <= 0 {
		return fmt.Errorf("count must be > 0, got %d", cfg.Count)
	}
	return nil
}
