// Package cmd wires the cdphost CLI: a "serve" command that runs the full
// bridge host, and a "targets" diagnostic command that exercises the Target
// Registry standalone. Grounded on tomasbasham-har-capture's internal/cmd
// package (root.go/serve.go's Options/Complete/Validate/Run split) and on
// chromedp's own runner.CommandLineOption convention for flag naming.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the "cdphost" command with its serve and targets
// subcommands attached.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cdphost",
		Short:         "CDP session bridge host",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(NewServeCommand(NewServeOptions()))
	root.AddCommand(NewTargetsCommand(NewTargetsOptions()))

	return root
}
