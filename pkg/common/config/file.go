package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineFile is the optional YAML overlay for stage tuning. Zero values keep
// the environment settings.
type PipelineFile struct {
	Ingestion struct {
		Bucket string `yaml:"bucket"`
		Prefix string `yaml:"prefix"`
	} `yaml:"ingestion"`
	Normalizer struct {
		VersionPolicy string `yaml:"version_policy"`
	} `yaml:"normalizer"`
	Sync struct {
		Enabled     *bool  `yaml:"enabled"`
		Store       string `yaml:"store"`
		Table       string `yaml:"table"`
		BatchSize   int    `yaml:"batch_size"`
		Workers     int    `yaml:"workers"`
		CallTimeout string `yaml:"call_timeout"`
	} `yaml:"sync"`
	Schedule struct {
		Interval string `yaml:"interval"`
	} `yaml:"schedule"`
}

func LoadPipelineFile(path string) (PipelineFile, error) {
	if path == "" {
		return PipelineFile{}, nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return PipelineFile{}, err
	}
	var pf PipelineFile
	if err := yaml.Unmarshal(content, &pf); err != nil {
		return PipelineFile{}, fmt.Errorf("parse pipeline file %s: %w", path, err)
	}
	return pf, nil
}

// Apply overlays non-zero file settings onto cfg.
func (pf PipelineFile) Apply(cfg *Config) error {
	if pf.Ingestion.Bucket != "" {
		cfg.RawBucket = pf.Ingestion.Bucket
	}
	if pf.Normalizer.VersionPolicy != "" {
		cfg.VersionPolicy = pf.Normalizer.VersionPolicy
	}
	if pf.Sync.Enabled != nil {
		cfg.SyncEnabled = *pf.Sync.Enabled
	}
	if pf.Sync.Store != "" {
		cfg.SyncStoreMode = pf.Sync.Store
	}
	if pf.Sync.Table != "" {
		cfg.SyncTable = pf.Sync.Table
	}
	if pf.Sync.BatchSize > 0 {
		cfg.SyncBatchSize = pf.Sync.BatchSize
	}
	if pf.Sync.Workers > 0 {
		cfg.SyncWorkers = pf.Sync.Workers
	}
	if pf.Sync.CallTimeout != "" {
		d, err := time.ParseDuration(pf.Sync.CallTimeout)
		if err != nil {
			return fmt.Errorf("sync.call_timeout: %w", err)
		}
		cfg.SyncCallTimeout = d
	}
	if pf.Schedule.Interval != "" {
		d, err := time.ParseDuration(pf.Schedule.Interval)
		if err != nil {
			return fmt.Errorf("schedule.interval: %w", err)
		}
		cfg.ScheduleInterval = d
	}
	return nil
}

// LoadWithFile returns the environment config with the PIPELINE_CONFIG_FILE
// overlay applied.
func LoadWithFile() (*Config, PipelineFile, error) {
	cfg := Load()
	pf, err := LoadPipelineFile(cfg.PipelineFile)
	if err != nil {
		return cfg, pf, err
	}
	if err := pf.Apply(cfg); err != nil {
		return cfg, pf, err
	}
	return cfg, pf, nil
}
