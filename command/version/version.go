package version

import (
	"github.com/spf13/cobra"

	"github.com/tracertl/tracertl/command"
	"github.com/tracertl/tracertl/tracefile"
	"github.com/tracertl/tracertl/versioning"
)

func GetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Returns the current tracertl version",
		Args:  cobra.NoArgs,
		Run:   runCommand,
	}
}

func runCommand(cmd *cobra.Command, _ []string) {
	outputter := command.InitializeOutputter(cmd)
	defer outputter.WriteOutput()

	outputter.SetCommandResult(
		&VersionResult{
			Version:       versioning.Version,
			Commit:        versioning.Commit,
			Branch:        versioning.Branch,
			BuildTime:     versioning.BuildTime,
			FormatVersion: tracefile.FormatVersion,
		},
	)
}
