package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
)

// Config is the YAML configuration of a cache manager deployment.
//
//	path: /var/lib/burrow
//	max_readers: 126
//	max_mapped_size: 1073741824
//	intersection_chunk_size: 100
//	num_indexing_threads: 4
//	log:
//	  level: info
//	  json: true
type Config struct {
	Path                  string    `yaml:"path"`
	MaxReaders            int       `yaml:"max_readers,omitempty"`
	MaxMappedSize         int       `yaml:"max_mapped_size,omitempty"`
	IntersectionChunkSize int       `yaml:"intersection_chunk_size,omitempty"`
	NumIndexingThreads    int       `yaml:"num_indexing_threads,omitempty"`
	Log                   LogConfig `yaml:"log,omitempty"`
}

// LogConfig selects level and output format.
type LogConfig struct {
	Level string `yaml:"level,omitempty"`
	JSON  bool   `yaml:"json,omitempty"`
}

// Load reads and validates a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Path == "" {
		return Config{}, fmt.Errorf("config: path is required")
	}
	return cfg, nil
}

// ManagerOptions maps the configuration onto manager options.
func (c Config) ManagerOptions() manager.Options {
	return manager.Options{
		Path:                  c.Path,
		MaxReaders:            c.MaxReaders,
		MaxMappedSize:         c.MaxMappedSize,
		IntersectionChunkSize: c.IntersectionChunkSize,
		NumIndexingThreads:    c.NumIndexingThreads,
	}
}

// InitLogging applies the log section to the global logger.
func (c Config) InitLogging() {
	level := log.Level(c.Log.Level)
	if level == "" {
		level = log.InfoLevel
	}
	log.Init(log.Config{Level: level, JSONOutput: c.Log.JSON})
}
