package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/usnistgov/swpll"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and quit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "This is SWPLL version %s\n", swpll.Build.Version)
			fmt.Fprintf(w, "Git commit hash: %s\n", swpll.Build.Githash)
			fmt.Fprintf(w, "Build time: %s\n", swpll.Build.Date)
			fmt.Fprintf(w, "Built on go version %s\n", runtime.Version())
			fmt.Fprintf(w, "Running on %d CPUs.\n", runtime.NumCPU())
		},
	}
}
