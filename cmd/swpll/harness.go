package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/usnistgov/swpll"
	"github.com/usnistgov/swpll/internal/testvector"
	"github.com/usnistgov/swpll/profile"
)

type streamFlags struct {
	in, out string
}

func (sf *streamFlags) add(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&sf.in, "in", "i", "", "input test vector file (default stdin)")
	cmd.Flags().StringVarP(&sf.out, "out", "o", "", "output file (default stdout)")
}

// controllerFor builds the controller of the named profile, which must drive
// the given actuator.
func controllerFor(name string, want swpll.ActuatorKind) (*swpll.Controller, error) {
	p, err := profile.Lookup(name)
	if err != nil {
		return nil, err
	}
	kind, err := p.Kind()
	if err != nil {
		return nil, err
	}
	if kind != want {
		return nil, fmt.Errorf("profile %q drives a %v actuator, not %v", name, kind, want)
	}
	ctrl, _, err := p.NewController()
	return ctrl, err
}

func newLUTCmd() *cobra.Command {
	var sf streamFlags
	var profileName string
	cmd := &cobra.Command{
		Use:   "lut",
		Short: "Run a LUT loop over port timer samples",
		Long: "Read \"mclk_pt ref_pt\" lines and write \"status reg diff accum accum_accum first_loop\" " +
			"for each, running the LUT controller of the chosen profile.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := controllerFor(profileName, swpll.LUTActuator)
			if err != nil {
				return err
			}
			r, w, done, err := openStreams(cmd, sf.in, sf.out)
			if err != nil {
				return err
			}
			err = testvector.RunLUT(ctrl, r, w)
			if cerr := done(); err == nil {
				err = cerr
			}
			return err
		},
	}
	sf.add(cmd)
	cmd.Flags().StringVarP(&profileName, "profile", "p", "lut-12.288MHz", "loop profile")
	return cmd
}

func newSDMCtrlCmd() *cobra.Command {
	var sf streamFlags
	var profileName string
	cmd := &cobra.Command{
		Use:   "sdm-ctrl",
		Short: "Run an SDM controller over detector differences",
		Long:  "Read \"mclk_diff\" lines and write \"error dco_ctl status\" for each.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := controllerFor(profileName, swpll.SDMActuator)
			if err != nil {
				return err
			}
			r, w, done, err := openStreams(cmd, sf.in, sf.out)
			if err != nil {
				return err
			}
			err = testvector.RunSDMControl(ctrl, r, w)
			if cerr := done(); err == nil {
				err = cerr
			}
			return err
		},
	}
	sf.add(cmd)
	cmd.Flags().StringVarP(&profileName, "profile", "p", "sdm-24.576MHz", "loop profile")
	return cmd
}

func newSDMDCOCmd() *cobra.Command {
	var sf streamFlags
	cmd := &cobra.Command{
		Use:   "sdm-dco",
		Short: "Run the sigma-delta modulator over control values",
		Long:  "Read \"ds_in\" lines and write \"ds_out frac_reg\" for each.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, w, done, err := openStreams(cmd, sf.in, sf.out)
			if err != nil {
				return err
			}
			err = testvector.RunSDMDCO(r, w)
			if cerr := done(); err == nil {
				err = cerr
			}
			return err
		},
	}
	sf.add(cmd)
	return cmd
}
