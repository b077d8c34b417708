// Copyright (C) 2025 Loomworks AI (oss@loomworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the taskgraph service configuration with
// priority: environment > file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// maxConfigFileSize caps config files; anything larger is almost
// certainly not a config file.
const maxConfigFileSize = 1 << 20

// Config is the top-level service configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type Config struct {
	// Logging contains log output settings.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Store contains graph persistence settings.
	Store StoreConfig `json:"store" yaml:"store"`

	// Weaviate contains similarity index settings.
	Weaviate WeaviateConfig `json:"weaviate" yaml:"weaviate"`

	// Embeddings contains embedding provider settings.
	Embeddings EmbeddingsConfig `json:"embeddings" yaml:"embeddings"`

	// Bridge contains insertion transaction settings.
	Bridge BridgeConfig `json:"bridge" yaml:"bridge"`

	// Gaps contains gap detection settings.
	Gaps GapsConfig `json:"gaps" yaml:"gaps"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	LogDir string `json:"log_dir" yaml:"log_dir"`
	JSON   bool   `json:"json" yaml:"json"`
	Quiet  bool   `json:"quiet" yaml:"quiet"`
}

// StoreConfig contains graph persistence settings.
type StoreConfig struct {
	// Backend selects "badger" or "memory".
	Backend string `json:"backend" yaml:"backend"`

	// Path is the Badger data directory. Ignored for memory.
	Path string `json:"path" yaml:"path"`

	// SyncWrites forces fsync on every Badger commit.
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes"`
}

// WeaviateConfig contains similarity index settings. An empty Host
// selects the in-process index.
type WeaviateConfig struct {
	Host   string `json:"host" yaml:"host"`
	Scheme string `json:"scheme" yaml:"scheme"`
}

// EmbeddingsConfig contains embedding provider settings.
type EmbeddingsConfig struct {
	// Provider selects "openai" or "deterministic".
	Provider string `json:"provider" yaml:"provider"`

	// Model is the OpenAI embedding model name.
	Model string `json:"model" yaml:"model"`

	// APIKey overrides the OPENAI_API_KEY environment variable and the
	// secrets file. Prefer the environment variable.
	APIKey string `json:"api_key" yaml:"api_key"`
}

// BridgeConfig contains insertion transaction settings.
type BridgeConfig struct {
	// SimilarityThreshold is the duplicate-detection cutoff in [0, 1].
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`

	// DuplicateSearchLimit bounds neighbors fetched per candidate.
	DuplicateSearchLimit int `json:"duplicate_search_limit" yaml:"duplicate_search_limit"`
}

// GapsConfig contains gap detection settings.
type GapsConfig struct {
	// TimeGapWindow is the creation-time distance beyond which two
	// tasks count as temporally distant.
	TimeGapWindow time.Duration `json:"time_gap_window" yaml:"time_gap_window"`

	// MaxGaps caps the number of gaps reported per scan.
	MaxGaps int `json:"max_gaps" yaml:"max_gaps"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			LogDir: "logs",
			JSON:   false,
		},
		Store: StoreConfig{
			Backend:    "badger",
			Path:       "data/taskgraph",
			SyncWrites: false,
		},
		Weaviate: WeaviateConfig{
			Host:   "",
			Scheme: "http",
		},
		Embeddings: EmbeddingsConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Bridge: BridgeConfig{
			SimilarityThreshold:  0.9,
			DuplicateSearchLimit: 3,
		},
		Gaps: GapsConfig{
			TimeGapWindow: 7 * 24 * time.Hour,
			MaxGaps:       3,
		},
	}
}

// LoadConfig loads configuration with priority: env > file > defaults.
// A missing file is not an error; a malformed one is.
func LoadConfig(path string, log *slog.Logger) (Config, error) {
	if log == nil {
		log = slog.Default()
	}
	config := DefaultConfig()

	if path != "" {
		if err := loadConfigFile(path, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&config)
	config.normalize(log)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Try YAML first, then JSON.
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadConfigFromEnv(config *Config) {
	if v := os.Getenv("TASKLOOM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("TASKLOOM_LOG_DIR"); v != "" {
		config.Logging.LogDir = v
	}
	if v := os.Getenv("TASKLOOM_STORE_BACKEND"); v != "" {
		config.Store.Backend = v
	}
	if v := os.Getenv("TASKLOOM_STORE_PATH"); v != "" {
		config.Store.Path = v
	}
	if v := os.Getenv("WEAVIATE_HOST"); v != "" {
		config.Weaviate.Host = v
	}
	if v := os.Getenv("WEAVIATE_SCHEME"); v != "" {
		config.Weaviate.Scheme = v
	}
	if v := os.Getenv("TASKLOOM_EMBEDDINGS_PROVIDER"); v != "" {
		config.Embeddings.Provider = v
	}
	if v := os.Getenv("TASKLOOM_EMBEDDINGS_MODEL"); v != "" {
		config.Embeddings.Model = v
	}
	if v := os.Getenv("TASKLOOM_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Bridge.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("TASKLOOM_MAX_GAPS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Gaps.MaxGaps = i
		}
	}
	if v := os.Getenv("TASKLOOM_TIME_GAP_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Gaps.TimeGapWindow = d
		}
	}
}

// normalize corrects recoverable misconfiguration in place, logging a
// warning for each correction. Unrecoverable problems are left for
// Validate.
func (c *Config) normalize(log *slog.Logger) {
	if c.Bridge.SimilarityThreshold <= 0 || c.Bridge.SimilarityThreshold >= 1 {
		log.Warn("similarity_threshold out of (0, 1), using default",
			"value", c.Bridge.SimilarityThreshold, "default", 0.9)
		c.Bridge.SimilarityThreshold = 0.9
	}
	if c.Bridge.DuplicateSearchLimit <= 0 {
		log.Warn("duplicate_search_limit must be positive, using default",
			"value", c.Bridge.DuplicateSearchLimit, "default", 3)
		c.Bridge.DuplicateSearchLimit = 3
	}
	if c.Gaps.MaxGaps <= 0 {
		log.Warn("max_gaps must be positive, using default",
			"value", c.Gaps.MaxGaps, "default", 3)
		c.Gaps.MaxGaps = 3
	}
	if c.Gaps.TimeGapWindow <= 0 {
		log.Warn("time_gap_window must be positive, using default",
			"value", c.Gaps.TimeGapWindow.String(), "default", "168h")
		c.Gaps.TimeGapWindow = 7 * 24 * time.Hour
	}
	if c.Weaviate.Scheme == "" {
		c.Weaviate.Scheme = "http"
	}
}

// Validate rejects configurations normalize cannot repair.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "badger", "memory":
	default:
		return fmt.Errorf("unknown store backend %q (want badger or memory)", c.Store.Backend)
	}
	if c.Store.Backend == "badger" && c.Store.Path == "" {
		return fmt.Errorf("store path is required for the badger backend")
	}

	switch c.Embeddings.Provider {
	case "openai", "deterministic":
	default:
		return fmt.Errorf("unknown embeddings provider %q (want openai or deterministic)", c.Embeddings.Provider)
	}

	switch c.Weaviate.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("unknown weaviate scheme %q (want http or https)", c.Weaviate.Scheme)
	}
	return nil
}
