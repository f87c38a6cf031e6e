package commands

import (
	"fmt"
	"parcelharvest/internal/harvest"

	"github.com/spf13/cobra"
)

var (
	firstMunicipality int
	lastMunicipality  int
)

func init() {
	sequenceCmd.Flags().IntVar(&firstMunicipality, "first-municipality", 0, "The first municipality code to sequence (default from config, else 1).")
	sequenceCmd.Flags().IntVar(&lastMunicipality, "last-municipality", 0, "The last municipality code to sequence (default from config, else 67).")
	addFilterFlags(sequenceCmd)
	rootCmd.AddCommand(sequenceCmd)
}

// municipalityRange layers the municipality flags over opts. The range only
// matters when no prefixes were given on the command line.
func municipalityRange(opts *harvest.Options, prefixes []string) error {
	if firstMunicipality > 0 {
		opts.FirstMunicipality = firstMunicipality
	}
	if lastMunicipality > 0 {
		opts.LastMunicipality = lastMunicipality
	}
	if len(prefixes) == 0 && opts.FirstMunicipality > opts.LastMunicipality {
		return fmt.Errorf(
			"first municipality %02d is after last municipality %02d",
			opts.FirstMunicipality, opts.LastMunicipality,
		)
	}
	return nil
}

var sequenceCmd = &cobra.Command{
	Use:   "sequence [PREFIX...]",
	Short: "Discovers every parcel id under the given prefixes (or every municipality) and saves the summary rows.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		opts, err := harvestOptions(a.config.Harvest)
		if err != nil {
			return err
		}
		err = municipalityRange(&opts, args)
		if err != nil {
			return err
		}

		o := a.orchestrator(opts)
		defer reportStats(o)
		return o.Sequence(cmd.Context(), args)
	},
}
