package stats

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracertl/tracertl/command"
	"github.com/tracertl/tracertl/tracefile"
)

func GetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <tracefile>",
		Short: "Summarizes the frames and records of a trace file",
		Args:  cobra.ExactArgs(1),
		Run:   runCommand,
	}
}

func runCommand(cmd *cobra.Command, args []string) {
	outputter := command.InitializeOutputter(cmd)
	defer outputter.WriteOutput()

	result, err := summarize(args[0])
	if err != nil {
		outputter.SetError(fmt.Errorf("unable to read %s: %w", args[0], err))

		return
	}

	outputter.SetCommandResult(result)
}

func summarize(path string) (*StatsResult, error) {
	rd, err := tracefile.Open(path)
	if err != nil {
		return nil, err
	}

	defer rd.Close()

	summary, err := tracefile.Summarize(rd)
	if err != nil {
		return nil, err
	}

	frames := make(map[string]int, len(summary.Frames))
	for kind, count := range summary.Frames {
		frames[kind.String()] = count
	}

	return &StatsResult{
		File:          path,
		SessionID:     summary.Header.SessionID.String(),
		StartTime:     summary.Header.StartTime.UTC().Format(time.RFC3339Nano),
		FormatVersion: summary.Header.Version,
		Frames:        frames,
		Records:       summary.Records,
		RawBytes:      summary.RawBytes,
		StoredBytes:   summary.StoredBytes,
		Ratio:         summary.Ratio(),
		VCPUs:         summary.VCPUs,
	}, nil
}
