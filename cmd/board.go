package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/displaynode/internal/config"
	"github.com/spf13/cobra"
)

// CreateBoardCmd creates the board command.
func CreateBoardCmd() *cobra.Command {
	var printDefault bool

	cmd := &cobra.Command{
		Use:   "board [file]",
		Short: "Validate a board description",
		Long: `Parses and validates a board TOML file and summarises its pipes and clusters. ` +
			`With --default, prints the built-in simulated board as a starting point.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if printDefault {
				enc := toml.NewEncoder(out)
				enc.SetIndentTables(true)
				return enc.Encode(config.DefaultBoard())
			}
			if len(args) == 0 {
				return fmt.Errorf("board file required")
			}
			b, err := config.LoadBoard(args[0])
			if err != nil {
				return err
			}
			return printBoard(out, b)
		},
	}

	cmd.Flags().BoolVar(&printDefault, "default", false, "Print the built-in simulated board")
	return cmd
}

func printBoard(out io.Writer, b *config.Board) error {
	fmt.Fprintf(out, "Board %q: %d pipes, %d clusters\n\n", b.Name, len(b.Pipes), len(b.Clusters))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PIPE\tNAME\tOUTPUT\tPANEL\tPOWER STEPS")
	for _, p := range b.Pipes {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", p.Index, p.Name, p.Output, panelSummary(p.Panel), len(p.Panel.Power))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, c := range b.Clusters {
		fmt.Fprintf(out, "\nCluster %q: %s %dx%d, members %v, reference %d\n",
			c.Name, c.Direction, c.Width, c.Height, c.Members, c.Reference)
	}
	return nil
}

func panelSummary(p config.Panel) string {
	switch {
	case p.Absent:
		return "absent"
	case p.Timing != nil:
		return p.Timing.String()
	case p.EDID != "":
		return "edid:" + p.EDID
	default:
		return "sink"
	}
}
