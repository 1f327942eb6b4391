// Package collectionconfig loads and saves a collection's on-disk
// configuration: dimension, distance metric, shard count, and HNSW
// parameters.
package collectionconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/diffsec/vectorcore/internal/distance"
	"github.com/diffsec/vectorcore/internal/hnsw"
)

const FileName = "config.yaml"

// HNSWConfig is the YAML/JSON-serializable form of hnsw.Params.
type HNSWConfig struct {
	M            int  `yaml:"m" json:"m"`
	EfConstruct  int  `yaml:"ef_construct" json:"ef_construct"`
	EfSearch     int  `yaml:"ef_search" json:"ef_search"`
	UseHeuristic bool `yaml:"use_heuristic" json:"use_heuristic"`
}

// ToParams converts to the hnsw package's runtime parameter type.
func (c HNSWConfig) ToParams() hnsw.Params {
	return hnsw.Params{M: c.M, EfConstruct: c.EfConstruct, EfSearch: c.EfSearch, UseHeuristic: c.UseHeuristic}
}

// DefaultHNSWConfig returns reasonable defaults for a new collection.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{M: 16, EfConstruct: 128, EfSearch: 64, UseHeuristic: true}
}

// Config is one collection's persisted configuration.
type Config struct {
	Dim         int        `yaml:"dim" json:"dim"`
	Distance    string     `yaml:"distance" json:"distance"`
	ShardCount  int        `yaml:"shard_count" json:"shard_count"`
	HNSW        HNSWConfig `yaml:"hnsw" json:"hnsw"`
	RandomSeed  uint64     `yaml:"random_seed" json:"random_seed"`
}

// Metric parses the Distance field into a distance.Metric.
func (c Config) Metric() (distance.Metric, error) {
	switch c.Distance {
	case "Euclid", "euclid":
		return distance.Euclid, nil
	case "Dot", "dot":
		return distance.Dot, nil
	case "Cosine", "cosine":
		return distance.Cosine, nil
	default:
		return 0, fmt.Errorf("collectionconfig: unknown distance metric %q", c.Distance)
	}
}

// Validate checks internal consistency before a collection is built from it.
func (c Config) Validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("collectionconfig: dim must be positive, got %d", c.Dim)
	}
	if c.ShardCount <= 0 {
		return fmt.Errorf("collectionconfig: shard_count must be positive, got %d", c.ShardCount)
	}
	if c.HNSW.M <= 0 {
		return fmt.Errorf("collectionconfig: hnsw.m must be positive, got %d", c.HNSW.M)
	}
	if _, err := c.Metric(); err != nil {
		return err
	}
	return nil
}

// Path returns the config file path under a collection directory.
func Path(collectionDir string) string {
	return filepath.Join(collectionDir, FileName)
}

// Load reads and parses a collection's config.yaml.
func Load(collectionDir string) (Config, error) {
	data, err := os.ReadFile(Path(collectionDir))
	if err != nil {
		return Config{}, fmt.Errorf("collectionconfig: read: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("collectionconfig: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to collectionDir/config.yaml, creating the directory if
// needed.
func Save(collectionDir string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(collectionDir, 0o755); err != nil {
		return fmt.Errorf("collectionconfig: mkdir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("collectionconfig: marshal: %w", err)
	}
	if err := os.WriteFile(Path(collectionDir), data, 0o644); err != nil {
		return fmt.Errorf("collectionconfig: write: %w", err)
	}
	return nil
}
