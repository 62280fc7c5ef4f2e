package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/usnistgov/swpll/profile"
)

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	var profileFile string
	rootCmd := &cobra.Command{
		Use:   "swpll",
		Short: "Software phase-locked loop tools",
		Long: "The swpll tool runs software PLLs against test vectors, simulates them in closed loop " +
			"and serves a running loop over JSON-RPC.",
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if profileFile == "" {
				return nil
			}
			if err := profile.Load(profileFile); err != nil {
				return fmt.Errorf("loading profiles from %s: %w", profileFile, err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&profileFile, "profiles", "", "TOML file of extra loop profiles")

	rootCmd.AddCommand(newLUTCmd(), newSDMCtrlCmd(), newSDMDCOCmd(), newTableCmd(),
		newSimulateCmd(), newServeCmd(), newPortsCmd(), newVersionCmd())
	return rootCmd
}

// Execute runs the command line and exits on error.
func Execute() {
	cobra.CheckErr(newRootCmd().Execute())
}

// openStreams returns the input and output of a harness command: named files,
// or the command's stdin and stdout for empty names or "-".
func openStreams(cmd *cobra.Command, in, out string) (io.Reader, io.Writer, func() error, error) {
	var r io.Reader = cmd.InOrStdin()
	var w io.Writer = cmd.OutOrStdout()
	var closers []io.Closer
	closeAll := func() error {
		var first error
		for _, c := range closers {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	if in != "" && in != "-" {
		f, err := os.Open(in)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, f)
		r = f
	}
	if out != "" && out != "-" {
		f, err := os.Create(out)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, f)
		w = f
	}
	return r, w, closeAll, nil
}
