package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl"
	"gopkg.in/yaml.v3"

	"github.com/tracertl/tracertl/tracefile"
	"github.com/tracertl/tracertl/tracer"
)

// Config defines the tracer and CLI configuration params
type Config struct {
	OutputPath       string     `json:"tracefile" yaml:"tracefile" hcl:"tracefile" mapstructure:"tracefile"`
	MaxInstructions  int64      `json:"traceinst" yaml:"traceinst" hcl:"traceinst" mapstructure:"traceinst"`
	Codec            string     `json:"codec" yaml:"codec" hcl:"codec" mapstructure:"codec"`
	CompressionLevel string     `json:"compression_level" yaml:"compression_level" hcl:"compression_level" mapstructure:"compression_level"`
	InitialCapacity  int        `json:"initial_capacity" yaml:"initial_capacity" hcl:"initial_capacity" mapstructure:"initial_capacity"`
	FlushThreshold   int        `json:"flush_threshold" yaml:"flush_threshold" hcl:"flush_threshold" mapstructure:"flush_threshold"`
	MaxCapacity      int        `json:"max_capacity" yaml:"max_capacity" hcl:"max_capacity" mapstructure:"max_capacity"`
	PhysicalMemory   bool       `json:"phys_mem" yaml:"phys_mem" hcl:"phys_mem" mapstructure:"phys_mem"`
	LogLevel         string     `json:"log_level" yaml:"log_level" hcl:"log_level" mapstructure:"log_level"`
	LogFilePath      string     `json:"log_to" yaml:"log_to" hcl:"log_to" mapstructure:"log_to"`
	JSONLogFormat    bool       `json:"json_log_format" yaml:"json_log_format" hcl:"json_log_format" mapstructure:"json_log_format"`
	Telemetry        *Telemetry `json:"telemetry" yaml:"telemetry" hcl:"telemetry" mapstructure:"-"`
	Workload         *Workload  `json:"workload" yaml:"workload" hcl:"workload" mapstructure:"-"`
}

// Telemetry holds the config details for metric services
type Telemetry struct {
	PrometheusAddr string `json:"prometheus_addr" yaml:"prometheus_addr" hcl:"prometheus_addr"`
}

// Workload configures the synthetic emulator driven by the bench command
type Workload struct {
	VCPUs       int   `json:"vcpus" yaml:"vcpus" hcl:"vcpus"`
	Blocks      int   `json:"blocks" yaml:"blocks" hcl:"blocks"`
	Steps       int   `json:"steps" yaml:"steps" hcl:"steps"`
	TBCacheSize int   `json:"tb_cache_size" yaml:"tb_cache_size" hcl:"tb_cache_size"`
	Seed        int64 `json:"seed" yaml:"seed" hcl:"seed"`
	FixedWidth  bool  `json:"fixed_width" yaml:"fixed_width" hcl:"fixed_width"`
	RunAll      bool  `json:"run_all" yaml:"run_all" hcl:"run_all"`
}

const (
	DefaultLogLevel = "INFO"

	DefaultWorkloadVCPUs  = 4
	DefaultWorkloadBlocks = 64
	DefaultWorkloadSteps  = 10_000
	DefaultTBCacheSize    = 32
)

// DefaultConfig returns the default tracer configuration
func DefaultConfig() *Config {
	defaultTracerConfig := tracer.DefaultConfig()

	return &Config{
		OutputPath:       defaultTracerConfig.OutputPath,
		MaxInstructions:  int64(defaultTracerConfig.MaxInstructions),
		Codec:            tracefile.CodecZstd,
		CompressionLevel: "",
		InitialCapacity:  defaultTracerConfig.InitialCapacity,
		FlushThreshold:   defaultTracerConfig.FlushThreshold,
		MaxCapacity:      defaultTracerConfig.MaxCapacity,
		LogLevel:         DefaultLogLevel,
		LogFilePath:      "",
		Telemetry:        &Telemetry{},
		Workload: &Workload{
			VCPUs:       DefaultWorkloadVCPUs,
			Blocks:      DefaultWorkloadBlocks,
			Steps:       DefaultWorkloadSteps,
			TBCacheSize: DefaultTBCacheSize,
			Seed:        1,
		},
	}
}

// ReadConfigFile reads the config file from the specified path, builds a Config object
// and returns it.
//
// Supported file types: .json, .hcl, .yaml, .yml
func ReadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var unmarshalFunc func([]byte, interface{}) error

	switch {
	case strings.HasSuffix(path, ".hcl"):
		unmarshalFunc = hcl.Unmarshal
	case strings.HasSuffix(path, ".json"):
		unmarshalFunc = json.Unmarshal
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		unmarshalFunc = yaml.Unmarshal
	default:
		return nil, fmt.Errorf("suffix of %s is neither hcl, json, yaml nor yml", path)
	}

	config := DefaultConfig()

	if err := unmarshalFunc(data, config); err != nil {
		return nil, err
	}

	if config.Telemetry == nil {
		config.Telemetry = &Telemetry{}
	}

	if config.Workload == nil {
		config.Workload = DefaultConfig().Workload
	}

	return config, nil
}

// TracerConfig converts the file level configuration into a session configuration.
// A non-positive budget converts to zero and fails tracer validation.
func (c *Config) TracerConfig() *tracer.Config {
	var budget uint64
	if c.MaxInstructions > 0 {
		budget = uint64(c.MaxInstructions)
	}

	return &tracer.Config{
		OutputPath:       c.OutputPath,
		MaxInstructions:  budget,
		InitialCapacity:  c.InitialCapacity,
		FlushThreshold:   c.FlushThreshold,
		MaxCapacity:      c.MaxCapacity,
		Codec:            c.Codec,
		CompressionLevel: c.CompressionLevel,
		PhysicalMemory:   c.PhysicalMemory,
	}
}
