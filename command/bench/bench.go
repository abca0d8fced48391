package bench

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/tracertl/tracertl/command"
	"github.com/tracertl/tracertl/command/helper"
	"github.com/tracertl/tracertl/tracer"
	"github.com/tracertl/tracertl/workload"
)

func GetCommand() *cobra.Command {
	benchCmd := &cobra.Command{
		Use:     "bench",
		Short:   "Traces a synthetic multi vCPU workload and reports the session statistics",
		Args:    cobra.NoArgs,
		PreRunE: runPreRun,
		Run:     runCommand,
	}

	setFlags(benchCmd)

	return benchCmd
}

func setFlags(cmd *cobra.Command) {
	raw := params.rawConfig

	cmd.Flags().StringVar(
		&params.configPath,
		command.ConfigFlag,
		"",
		"the path to the config file. Supports .json, .yaml and .hcl",
	)

	cmd.Flags().StringArrayVar(
		&params.pluginArgs,
		argFlag,
		nil,
		"a plugin option as key=value, applied after the config file and flags. Can be repeated",
	)

	cmd.Flags().StringVar(
		&raw.OutputPath,
		tracefileFlag,
		raw.OutputPath,
		"the trace file to write",
	)

	cmd.Flags().Int64Var(
		&raw.MaxInstructions,
		traceinstFlag,
		raw.MaxInstructions,
		"the number of instructions to record",
	)

	cmd.Flags().StringVar(
		&raw.Codec,
		codecFlag,
		raw.Codec,
		"the frame compression codec (zstd, snappy or none)",
	)

	cmd.Flags().StringVar(
		&raw.CompressionLevel,
		levelFlag,
		raw.CompressionLevel,
		"the zstd encoder level (fastest, default, better or best)",
	)

	cmd.Flags().BoolVar(
		&raw.PhysicalMemory,
		physMemFlag,
		raw.PhysicalMemory,
		"record physical instead of virtual memory access addresses",
	)

	cmd.Flags().StringVar(
		&raw.LogLevel,
		command.LogLevelFlag,
		raw.LogLevel,
		fmt.Sprintf("the log level for console output. Default: %s", raw.LogLevel),
	)

	cmd.Flags().StringVar(
		&raw.LogFilePath,
		command.LogFileFlag,
		raw.LogFilePath,
		"write all logs to the file at specified location instead of writing them to the console",
	)

	cmd.Flags().StringVar(
		&raw.Telemetry.PrometheusAddr,
		prometheusFlag,
		"",
		"the address and port for the prometheus instrumentation service (address:port)",
	)

	cmd.Flags().IntVar(&raw.Workload.VCPUs, vcpusFlag, raw.Workload.VCPUs, "the number of emulated vCPUs")
	cmd.Flags().IntVar(&raw.Workload.Blocks, blocksFlag, raw.Workload.Blocks, "the number of guest basic blocks")
	cmd.Flags().IntVar(&raw.Workload.Steps, stepsFlag, raw.Workload.Steps, "the number of blocks each vCPU executes")
	cmd.Flags().IntVar(&raw.Workload.TBCacheSize, tbCacheFlag, raw.Workload.TBCacheSize, "the translation cache size")
	cmd.Flags().Int64Var(&raw.Workload.Seed, seedFlag, raw.Workload.Seed, "the seed of the generated guest program")
	cmd.Flags().BoolVar(
		&raw.Workload.FixedWidth,
		fixedWidthFlag,
		raw.Workload.FixedWidth,
		"generate fixed width instructions only",
	)
	cmd.Flags().BoolVar(
		&raw.Workload.RunAll,
		runAllFlag,
		raw.Workload.RunAll,
		"keep executing after the trace budget is exhausted",
	)
}

func runPreRun(cmd *cobra.Command, _ []string) error {
	return params.initConfig(cmd.Flags())
}

func runCommand(cmd *cobra.Command, _ []string) {
	outputter := command.InitializeOutputter(cmd)
	defer outputter.WriteOutput()

	defer params.logCloser.Close()

	result, err := runBench(cmd)
	if err != nil {
		outputter.SetError(err)

		return
	}

	outputter.SetCommandResult(result)
}

func runBench(cmd *cobra.Command) (*BenchResult, error) {
	cfg, logger := params.config, params.logger

	shutdownTelemetry, err := setupTelemetry(cfg.Telemetry.PrometheusAddr, logger)
	if err != nil {
		return nil, fmt.Errorf("unable to setup telemetry: %w", err)
	}

	defer shutdownTelemetry()

	program, err := workload.NewProgram(cfg.Workload.Blocks, cfg.Workload.Seed, cfg.Workload.FixedWidth)
	if err != nil {
		return nil, err
	}

	pages := workload.NewPageTable()
	program.Map(pages)

	session, err := tracer.Open(
		cfg.TracerConfig(),
		tracer.WithLogger(logger),
		tracer.WithPhysResolver(pages),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to start trace session: %w", err)
	}

	emu, err := workload.New(program, pages, session, params.workloadConfig(), logger)
	if err != nil {
		_, _ = session.Close()

		return nil, err
	}

	ctx, cancel := helper.SignalContext(cmd.Context())
	defer cancel()

	stats, runErr := emu.Run(ctx)

	report, closeErr := session.Close()

	err = multierror.Append(runErr, closeErr).ErrorOrNil()
	if err != nil {
		if report == nil {
			return nil, err
		}

		logger.Error("bench finished with errors", "err", err)
	}

	return newBenchResult(report, stats, err), nil
}
