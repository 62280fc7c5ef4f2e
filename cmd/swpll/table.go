package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/usnistgov/swpll"
	"github.com/usnistgov/swpll/lut"
	"github.com/usnistgov/swpll/profile"
)

func newTableCmd() *cobra.Command {
	var profileName, npyFile string
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Print the LUT of a profile",
		Long: "Print each LUT entry of a profile with its fraction and output frequency, " +
			"optionally saving the table as a .npy file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := profile.Lookup(profileName)
			if err != nil {
				return err
			}
			if kind, err := p.Kind(); err != nil {
				return err
			} else if kind != swpll.LUTActuator {
				return fmt.Errorf("profile %q has no LUT", p.Name)
			}
			table, err := p.Table()
			if err != nil {
				return err
			}
			nominal := p.Nominal(table)
			settings := p.Settings()
			w := cmd.OutOrStdout()
			for i, code := range table {
				hz := settings.WithFracReg(swpll.FracRegFromLUT(uint16(code))).OutputHz()
				mark := ""
				if i == nominal {
					mark = " nominal"
				}
				fmt.Fprintf(w, "%4d 0x%04X %.6f %.3f%s\n", i, uint16(code), lut.Fraction(code), hz, mark)
			}
			if npyFile == "" {
				return nil
			}
			f, err := os.Create(npyFile)
			if err != nil {
				return err
			}
			if err := lut.WriteNPY(f, table); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&profileName, "profile", "p", "lut-12.288MHz", "loop profile")
	cmd.Flags().StringVar(&npyFile, "npy", "", "also write the table to this .npy file")
	return cmd
}
