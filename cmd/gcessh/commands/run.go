package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tverly/gcessh/cmd/gcessh/handlers"
)

// Run returns the command that executes a single remote command.
//
// Examples:
//
//	gcessh run my-vm --zone europe-west3-b -- uptime
//	gcessh run -c staging.yaml -- systemctl status nginx
func Run() *cobra.Command {
	flags := &connectionFlags{}
	var instance string

	cmd := &cobra.Command{
		Use:   "run [instance] -- <command>",
		Short: "Run a command on an instance and print its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The instance is the single argument before the dash, or the
			// first argument when no dash is given and more follow.
			command := args
			if cmd.ArgsLenAtDash() == 1 || (cmd.ArgsLenAtDash() < 0 && len(args) > 1) {
				instance = args[0]
				command = args[1:]
			}
			return handlers.Run(cmd.Context(), flags.configPath, instance, strings.Join(command, " "), flags.overrides(cmd))
		},
	}

	flags.register(cmd)

	return cmd
}
