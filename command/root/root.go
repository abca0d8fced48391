package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tracertl/tracertl/command/bench"
	"github.com/tracertl/tracertl/command/dump"
	"github.com/tracertl/tracertl/command/helper"
	"github.com/tracertl/tracertl/command/stats"
	"github.com/tracertl/tracertl/command/version"
)

type RootCommand struct {
	baseCmd *cobra.Command
}

func NewRootCommand() *RootCommand {
	rootCommand := &RootCommand{
		baseCmd: &cobra.Command{
			Use:           "tracertl",
			Short:         "tracertl records compressed instruction traces of emulated guests",
			SilenceUsage:  true,
			SilenceErrors: true,
		},
	}

	helper.RegisterJSONOutputFlag(rootCommand.baseCmd)

	rootCommand.registerSubCommands()

	return rootCommand
}

func (rc *RootCommand) registerSubCommands() {
	rc.baseCmd.AddCommand(
		version.GetCommand(),
		bench.GetCommand(),
		dump.GetCommand(),
		stats.GetCommand(),
	)
}

func (rc *RootCommand) Execute() {
	if err := rc.baseCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)

		os.Exit(1)
	}
}
