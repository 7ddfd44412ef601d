package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/smazurov/displaynode/internal/mode"
	"github.com/smazurov/displaynode/internal/panel"
	"github.com/spf13/cobra"
)

// CreateEDIDCmd creates the edid command.
func CreateEDIDCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "edid [file]",
		Short: "Decode an EDID blob",
		Long: `Decodes an EDID file, e.g. /sys/class/drm/card0-HDMI-A-1/edid, and prints the ` +
			`sink identity and the modes a pipe would negotiate from it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := panel.LoadEDID(args[0])
			if err != nil {
				return err
			}
			e, err := mode.ParseEDID(data)
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", args[0], err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(e)
			}
			return printEDID(cmd.OutOrStdout(), e)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func printEDID(out io.Writer, e *mode.EDID) error {
	fmt.Fprintf(out, "Manufacturer: %s\n", e.Manufacturer)
	fmt.Fprintf(out, "Product:      0x%04x\n", e.ProductCode)
	if e.Name != "" {
		fmt.Fprintf(out, "Name:         %s\n", e.Name)
	}
	fmt.Fprintf(out, "Year:         %d\n", e.Year)
	fmt.Fprintf(out, "Version:      %s\n", e.Version)
	fmt.Fprintf(out, "HDMI:         %t\n\n", e.HDMI)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODE\tPIXEL CLOCK\tPREFERRED")
	for _, c := range e.Modes {
		pref := ""
		if c.Preferred {
			pref = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Mode, c.Mode.PixelClock(), pref)
	}
	return w.Flush()
}
