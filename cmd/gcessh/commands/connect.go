package commands

import (
	"github.com/spf13/cobra"

	"github.com/tverly/gcessh/cmd/gcessh/handlers"
)

// Connect returns the command that opens an interactive session.
//
// The instance may come from a positional argument, the connection file,
// or both; flags override the file.
//
// Examples:
//
//	# Connect with everything on the command line
//	gcessh connect my-vm --zone europe-west3-b --project my-project
//
//	# Connect using a connection file
//	gcessh connect -c staging.yaml
//
//	# Unreachable instance behind IAP
//	gcessh connect my-vm --zone europe-west3-b --tunnel
func Connect() *cobra.Command {
	flags := &connectionFlags{}

	cmd := &cobra.Command{
		Use:   "connect [instance]",
		Short: "Open a shell on an instance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instance := ""
			if len(args) > 0 {
				instance = args[0]
			}
			return handlers.Connect(cmd.Context(), flags.configPath, instance, flags.overrides(cmd))
		},
	}

	flags.register(cmd)

	return cmd
}
