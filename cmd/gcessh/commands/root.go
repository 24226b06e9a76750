// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument
// parsing, flag binding, and validation. Command execution is delegated
// to handler functions in the handlers package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the gcessh CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gcessh",
		Short: "SSH into Compute Engine instances with ephemeral keys",
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(Connect())
	cmd.AddCommand(Run())
	cmd.AddCommand(Version())

	return cmd
}
