package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/bytedance/sonic"
)

type (
	Config struct {
		API      APIConfig      `yaml:"api"`
		Sessions SessionsConfig `yaml:"sessions"`
		Archive  ArchiveConfig  `yaml:"archive"`
		Logging  LoggingConfig  `yaml:"logging"`
		Monitor  MonitorConfig  `yaml:"monitor"`
		Notify   NotifyConfig   `yaml:"notify"`
		Schedule ScheduleConfig `yaml:"schedule"`
	}

	// APIConfig holds the application credentials from my.telegram.org.
	// All sessions share them.
	APIConfig struct {
		ID   int    `yaml:"id"`
		Hash string `yaml:"hash"`
	}

	SessionsConfig struct {
		// Dir holds one <name>.session authorization file per entry in
		// Names. Sessions must be logged in out of band.
		Dir               string   `yaml:"dir"`
		Names             []string `yaml:"names"`
		Proxy             string   `yaml:"proxy"`
		RequestsPerSecond int      `yaml:"requests_per_second"`
		PartSizeKB        int      `yaml:"part_size_kb"`
		UploadThreads     int      `yaml:"upload_threads"`
	}

	ArchiveConfig struct {
		DownloadDir string `yaml:"download_dir"`
		Mode        string `yaml:"mode"`   // raw, upload, hybrid
		Target      string `yaml:"target"` // required for upload/hybrid
		BatchSize   int    `yaml:"batch_size"`
		MaxClients  int    `yaml:"max_clients"`

		// Metric picks the load measure for balancing media groups
		// across sessions: file_count, message_count, size_estimate
		// or mixed.
		Metric                 string `yaml:"metric"`
		PreferLargeGroupsFirst *bool  `yaml:"prefer_large_groups_first"`
		SplitThreshold         int    `yaml:"split_threshold"`

		PreserveCaptions    *bool    `yaml:"preserve_captions"`
		PreserveMediaGroups *bool    `yaml:"preserve_media_groups"`
		ForwardText         bool     `yaml:"forward_text"`
		UploadDelaySeconds  *float64 `yaml:"upload_delay_seconds"`
		DeleteAfterUpload   bool     `yaml:"delete_after_upload"`
		QueueSize           int      `yaml:"queue_size"`

		// Bundle turns the finished channel directory into a .tar.gz.
		Bundle bool `yaml:"bundle"`
	}

	LoggingConfig struct {
		Level      string `yaml:"level"`  // debug, info, warn, error
		Format     string `yaml:"format"` // json, text
		Output     string `yaml:"output"` // stdout, file, both
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"` // MB
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
		Compress   bool   `yaml:"compress"`
	}

	MonitorConfig struct {
		Bind string `yaml:"bind"` // empty disables the endpoint
	}

	NotifyConfig struct {
		Token string `yaml:"token"`
		Chat  string `yaml:"chat"`
	}

	ScheduleConfig struct {
		Expr string `yaml:"expr"` // cron expression or interval, empty = one-shot
	}
)

// Clone .
func (c *Config) Clone() (*Config, error) {
	if c == nil {
		return nil, fmt.Errorf("config is nil")
	}

	raw, err := sonic.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var cloned Config
	if err := sonic.Unmarshal(raw, &cloned); err != nil {
		return nil, fmt.Errorf("unmarshal config clone: %w", err)
	}

	return &cloned, nil
}

// Hash .
func (c *Config) Hash() string {
	json := sonic.Config{SortMapKeys: true, UseNumber: true}.Froze()
	raw, _ := json.Marshal(c)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
