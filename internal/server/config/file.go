package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/clipdrop/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors Config for JSON/YAML config files. Durations accept
// either "24h"-style strings or integer nanoseconds. Fields left out of the
// file keep their current value.
type FileConfig struct {
	LogLevel          string         `json:"log_level" yaml:"log_level"`
	DatabaseDriver    string         `json:"database_driver" yaml:"database_driver"`
	DatabaseDSN       string         `json:"database_dsn" yaml:"database_dsn"`
	EncryptionKey     string         `json:"encryption_key" yaml:"encryption_key"`
	RequireEncryption *bool          `json:"require_encryption" yaml:"require_encryption"`
	StorageType       string         `json:"storage_type" yaml:"storage_type"`
	LocalRoot         string         `json:"local_root" yaml:"local_root"`
	S3RootUser        string         `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword    string         `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket          string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region          string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint    string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	S3Prefix          string         `json:"s3_prefix" yaml:"s3_prefix"`
	S3Timeout         timex.Duration `json:"s3_timeout" yaml:"s3_timeout"`
	RetentionWindow   timex.Duration `json:"retention_window" yaml:"retention_window"`
	SweepInterval     timex.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	SweepBatchSize    int            `json:"sweep_batch_size" yaml:"sweep_batch_size"`
}

// parseFile overlays the config file at path onto cfg. YAML is used for
// .yaml/.yml files, JSON otherwise. An empty path is a no-op.
func parseFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

func (fc *FileConfig) apply(cfg *Config) {
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.DatabaseDriver, fc.DatabaseDriver)
	setString(&cfg.DatabaseDSN, fc.DatabaseDSN)
	setString(&cfg.EncryptionKey, fc.EncryptionKey)
	setString(&cfg.StorageType, fc.StorageType)
	setString(&cfg.LocalRoot, fc.LocalRoot)
	setString(&cfg.S3RootUser, fc.S3RootUser)
	setString(&cfg.S3RootPassword, fc.S3RootPassword)
	setString(&cfg.S3Bucket, fc.S3Bucket)
	setString(&cfg.S3Region, fc.S3Region)
	setString(&cfg.S3BaseEndpoint, fc.S3BaseEndpoint)
	setString(&cfg.S3Prefix, fc.S3Prefix)

	if fc.RequireEncryption != nil {
		cfg.RequireEncryption = *fc.RequireEncryption
	}
	if fc.S3Timeout.Duration != 0 {
		cfg.S3Timeout = fc.S3Timeout.Duration
	}
	if fc.RetentionWindow.Duration != 0 {
		cfg.RetentionWindow = fc.RetentionWindow.Duration
	}
	if fc.SweepInterval.Duration != 0 {
		cfg.SweepInterval = fc.SweepInterval.Duration
	}
	if fc.SweepBatchSize != 0 {
		cfg.SweepBatchSize = fc.SweepBatchSize
	}
}
