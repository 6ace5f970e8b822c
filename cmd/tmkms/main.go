// Command tmkms runs the validator signing daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "tmkms",
		Short:         "Key management service for validator consensus signing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		startCommand(),
		initCommand(),
		versionCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tmkms: %v\n", err)
		os.Exit(1)
	}
}
