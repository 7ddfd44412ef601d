package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/smazurov/displaynode/internal/mode"
	"github.com/spf13/cobra"
)

// CreateModesCmd creates the modes command.
func CreateModesCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "modes",
		Short: "List the built-in HDMI mode presets",
		Long: `Prints the CEA/VESA preset table used when a sink offers no usable EDID. ` +
			`Presets the transmitter cannot drive are hidden unless --all is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printPresets(cmd.OutOrStdout(), all)
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include unsupported presets")
	return cmd
}

func printPresets(out io.Writer, all bool) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VIC\tNAME\tMODE\tPIXEL CLOCK\tSUPPORTED")
	for _, p := range mode.Presets {
		if !p.Supported && !all {
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\n", p.VIC, p.Name, p.Mode, p.Mode.PixelClock(), p.Supported)
	}
	return w.Flush()
}
