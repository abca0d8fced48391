package bench

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"

	"github.com/tracertl/tracertl/command"
	"github.com/tracertl/tracertl/config"
	"github.com/tracertl/tracertl/workload"
)

const (
	tracefileFlag  = "tracefile"
	traceinstFlag  = "traceinst"
	codecFlag      = "codec"
	levelFlag      = "compression-level"
	physMemFlag    = "phys-mem"
	prometheusFlag = "prometheus"
	argFlag        = "arg"

	vcpusFlag      = "vcpus"
	blocksFlag     = "blocks"
	stepsFlag      = "steps"
	tbCacheFlag    = "tb-cache"
	seedFlag       = "seed"
	fixedWidthFlag = "fixed-width"
	runAllFlag     = "run-all"
)

var (
	params = &benchParams{
		rawConfig: config.DefaultConfig(),
	}
)

type benchParams struct {
	configPath string
	pluginArgs []string

	// rawConfig holds the flag values, applied over the config file
	rawConfig *config.Config

	config    *config.Config
	logger    hclog.Logger
	logCloser io.Closer
}

// initConfig loads the config file, applies the changed flags and the plugin
// options on top of it and builds the logger
func (p *benchParams) initConfig(flags *pflag.FlagSet) error {
	cfg := config.DefaultConfig()

	if p.configPath != "" {
		fileConfig, err := config.ReadConfigFile(p.configPath)
		if err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}

		cfg = fileConfig
	}

	p.applyFlags(flags, cfg)

	logger, closer, err := cfg.NewLogger("tracertl")
	if err != nil {
		return err
	}

	// rejected options are logged and left at their previous value
	_ = config.ParsePluginArgs(p.pluginArgs, cfg, logger)

	p.config = cfg
	p.logger = logger
	p.logCloser = closer

	return nil
}

func (p *benchParams) applyFlags(flags *pflag.FlagSet, cfg *config.Config) {
	raw := p.rawConfig

	overrides := map[string]func(){
		tracefileFlag:        func() { cfg.OutputPath = raw.OutputPath },
		traceinstFlag:        func() { cfg.MaxInstructions = raw.MaxInstructions },
		codecFlag:            func() { cfg.Codec = raw.Codec },
		levelFlag:            func() { cfg.CompressionLevel = raw.CompressionLevel },
		physMemFlag:          func() { cfg.PhysicalMemory = raw.PhysicalMemory },
		command.LogLevelFlag: func() { cfg.LogLevel = raw.LogLevel },
		command.LogFileFlag:  func() { cfg.LogFilePath = raw.LogFilePath },
		prometheusFlag:       func() { cfg.Telemetry.PrometheusAddr = raw.Telemetry.PrometheusAddr },
		vcpusFlag:            func() { cfg.Workload.VCPUs = raw.Workload.VCPUs },
		blocksFlag:           func() { cfg.Workload.Blocks = raw.Workload.Blocks },
		stepsFlag:            func() { cfg.Workload.Steps = raw.Workload.Steps },
		tbCacheFlag:          func() { cfg.Workload.TBCacheSize = raw.Workload.TBCacheSize },
		seedFlag:             func() { cfg.Workload.Seed = raw.Workload.Seed },
		fixedWidthFlag:       func() { cfg.Workload.FixedWidth = raw.Workload.FixedWidth },
		runAllFlag:           func() { cfg.Workload.RunAll = raw.Workload.RunAll },
	}

	for name, apply := range overrides {
		if flags.Changed(name) {
			apply()
		}
	}
}

func (p *benchParams) workloadConfig() workload.Config {
	w := p.config.Workload

	return workload.Config{
		VCPUs:       w.VCPUs,
		Steps:       w.Steps,
		TBCacheSize: w.TBCacheSize,
		Seed:        w.Seed,
		RunAll:      w.RunAll,
	}
}
