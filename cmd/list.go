package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scalpel-e2e/internal/scenario"
)

// newListCmd creates the `list` command.
func newListCmd() *cobra.Command {
	var files []string

	listCmd := &cobra.Command{
		Use:   "list [scenario|tag:name...]",
		Short: "List the scenarios a run would execute",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios, err := loadScenarios(files, args)
			if err != nil {
				return err
			}
			return printScenarios(cmd.OutOrStdout(), scenarios)
		},
	}

	listCmd.Flags().StringSliceVar(&files, "file", nil, "YAML scenario file to list instead of the built-in suite (repeatable).")
	return listCmd
}

func printScenarios(out io.Writer, scenarios []scenario.Scenario) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTAGS\tVIEWPORT\tSTEPS\tCHECKPOINTS\tDESCRIPTION")
	for _, sc := range scenarios {
		checkpoints := 0
		for _, st := range sc.Steps {
			if st.Kind == scenario.KindCheckpoint {
				checkpoints++
			}
		}
		viewport := "default"
		if !sc.Viewport.IsZero() {
			viewport = fmt.Sprintf("%dx%d", sc.Viewport.Width, sc.Viewport.Height)
		}
		tags := strings.Join(sc.Tags, ",")
		if tags == "" {
			tags = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", sc.Name, tags, viewport, len(sc.Steps), checkpoints, sc.Description)
	}
	return tw.Flush()
}
