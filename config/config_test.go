package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracertl/tracertl/tracer"
)

func TestReadConfigFile(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json",
			file: "config.json",
			content: `{
	"tracefile": "out.zst",
	"traceinst": 2000,
	"codec": "snappy",
	"telemetry": {"prometheus_addr": "127.0.0.1:9091"},
	"workload": {"vcpus": 2, "steps": 100}
}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `tracefile: out.zst
traceinst: 2000
codec: snappy
telemetry:
  prometheus_addr: 127.0.0.1:9091
workload:
  vcpus: 2
  steps: 100
`,
		},
		{
			name: "hcl",
			file: "config.hcl",
			content: `tracefile = "out.zst"
traceinst = 2000
codec = "snappy"

telemetry {
  prometheus_addr = "127.0.0.1:9091"
}
`,
		},
	}

	for _, c := range cases {
		c := c

		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), c.file)
			require.NoError(t, os.WriteFile(path, []byte(c.content), 0o600))

			config, err := ReadConfigFile(path)
			require.NoError(t, err)

			assert.Equal(t, "out.zst", config.OutputPath)
			assert.Equal(t, int64(2000), config.MaxInstructions)
			assert.Equal(t, "snappy", config.Codec)

			// untouched keys keep their defaults
			assert.Equal(t, tracer.DefaultInitialCapacity, config.InitialCapacity)
			assert.Equal(t, DefaultLogLevel, config.LogLevel)
			require.NotNil(t, config.Telemetry)
			require.NotNil(t, config.Workload)

			assert.Equal(t, "127.0.0.1:9091", config.Telemetry.PrometheusAddr)

			if c.name != "hcl" {
				assert.Equal(t, 2, config.Workload.VCPUs)
				assert.Equal(t, 100, config.Workload.Steps)
			}
		})
	}
}

func TestReadConfigFile_UnknownSuffix(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o600))

	_, err := ReadConfigFile(path)
	assert.ErrorContains(t, err, "neither hcl, json, yaml nor yml")
}

func TestParsePluginArgs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		args     []string
		output   string
		budget   int64
		physMem  bool
		rejected int
	}{
		{
			name:   "defaults",
			output: tracer.DefaultOutputPath,
			budget: tracer.DefaultMaxInstructions,
		},
		{
			name:   "both options",
			args:   []string{"tracefile=/tmp/run.zst", "traceinst=1000"},
			output: "/tmp/run.zst",
			budget: 1000,
		},
		{
			name:   "hex budget",
			args:   []string{"traceinst=0x100"},
			output: tracer.DefaultOutputPath,
			budget: 256,
		},
		{
			name:    "switch value",
			args:    []string{"phys_mem=on"},
			output:  tracer.DefaultOutputPath,
			budget:  tracer.DefaultMaxInstructions,
			physMem: true,
		},
		{
			name:     "unparsable budget keeps default",
			args:     []string{"traceinst=lots"},
			output:   tracer.DefaultOutputPath,
			budget:   tracer.DefaultMaxInstructions,
			rejected: 1,
		},
		{
			name:     "zero budget is defaulted",
			args:     []string{"traceinst=0"},
			output:   tracer.DefaultOutputPath,
			budget:   tracer.DefaultMaxInstructions,
			rejected: 1,
		},
		{
			name:     "negative budget",
			args:     []string{"traceinst=-5"},
			output:   tracer.DefaultOutputPath,
			budget:   tracer.DefaultMaxInstructions,
			rejected: 1,
		},
		{
			name:     "unknown key and missing value",
			args:     []string{"colour=blue", "tracefile", "traceinst=42"},
			output:   tracer.DefaultOutputPath,
			budget:   42,
			rejected: 2,
		},
		{
			name:     "nested section is not an option",
			args:     []string{"telemetry=:9090"},
			output:   tracer.DefaultOutputPath,
			budget:   tracer.DefaultMaxInstructions,
			rejected: 1,
		},
	}

	for _, c := range cases {
		c := c

		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			config := DefaultConfig()

			err := ParsePluginArgs(c.args, config, hclog.NewNullLogger())

			if c.rejected == 0 {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidOption)
				assert.Len(t, multierrorList(err), c.rejected)
			}

			assert.Equal(t, c.output, config.OutputPath)
			assert.Equal(t, c.budget, config.MaxInstructions)
			assert.Equal(t, c.physMem, config.PhysicalMemory)
			require.NotNil(t, config.Telemetry)
		})
	}
}

func TestTracerConfig(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	require.NoError(t, ParsePluginArgs([]string{"traceinst=77", "codec=none", "flush_threshold=128"}, config, nil))

	tc := config.TracerConfig()

	assert.Equal(t, uint64(77), tc.MaxInstructions)
	assert.Equal(t, "none", tc.Codec)
	assert.Equal(t, 128, tc.FlushThreshold)
	assert.NoError(t, tc.Validate())
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.LogLevel = "DEBUG"
	config.LogFilePath = filepath.Join(t.TempDir(), "tracertl.log")

	logger, closer, err := config.NewLogger("tracertl")
	require.NoError(t, err)

	logger.Debug("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(config.LogFilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")

	config.LogLevel = "LOUD"

	_, _, err = config.NewLogger("tracertl")
	assert.ErrorContains(t, err, "invalid log level")
}

func multierrorList(err error) []error {
	var merr *multierror.Error
	if errors.As(err, &merr) {
		return merr.Errors
	}

	return []error{err}
}
