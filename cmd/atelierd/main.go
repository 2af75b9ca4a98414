package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errReported marks a failure whose message was already printed.
var errReported = errors.New("reported")

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "atelierd: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "atelierd",
		Short:         "Atelier credit ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	registerPersistentFlags(cmd)
	cmd.AddCommand(newServeCommand(), newCreditsCommand())
	return cmd
}
