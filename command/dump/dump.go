package dump

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracertl/tracertl/command"
	"github.com/tracertl/tracertl/tracefile"
	"github.com/tracertl/tracertl/types"
)

var errLimitReached = errors.New("limit reached")

func GetCommand() *cobra.Command {
	dumpCmd := &cobra.Command{
		Use:     "dump <tracefile>",
		Short:   "Prints the records of a trace file",
		Args:    cobra.ExactArgs(1),
		PreRunE: runPreRun,
		Run:     runCommand,
	}

	setFlags(dumpCmd)

	return dumpCmd
}

func setFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(
		&params.limit,
		limitFlag,
		0,
		"the maximum number of records to print, 0 prints every record",
	)

	cmd.Flags().IntVar(
		&params.skip,
		skipFlag,
		0,
		"the number of matching records to skip",
	)

	cmd.Flags().Int64Var(
		&params.vcpu,
		vcpuFlag,
		allVCPUs,
		"only print records of this vcpu",
	)

	cmd.Flags().StringVar(
		&params.pcRaw,
		pcFlag,
		"",
		"only print records of the instruction at this hex virtual address",
	)
}

func runPreRun(_ *cobra.Command, args []string) error {
	params.path = args[0]

	return params.validateFlags()
}

func runCommand(cmd *cobra.Command, _ []string) {
	outputter := command.InitializeOutputter(cmd)
	defer outputter.WriteOutput()

	result, err := readRecords(params)
	if err != nil {
		outputter.SetError(fmt.Errorf("unable to dump %s: %w", params.path, err))

		return
	}

	outputter.SetCommandResult(result)
}

func readRecords(p *dumpParams) (*DumpResult, error) {
	rd, err := tracefile.Open(p.path)
	if err != nil {
		return nil, err
	}

	defer rd.Close()

	result := &DumpResult{Records: []types.TraceRecord{}}
	skipped := 0

	err = rd.ForEach(func(_ *tracefile.Frame, r *types.TraceRecord) error {
		if !p.matches(r) {
			return nil
		}

		if skipped < p.skip {
			skipped++

			return nil
		}

		result.Records = append(result.Records, *r)

		if p.limit > 0 && len(result.Records) == p.limit {
			return errLimitReached
		}

		return nil
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return nil, err
	}

	return result, nil
}
