package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/google-proxy/pkg/models"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models the proxy knows about",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tINPUT LIMIT\tOUTPUT LIMIT")
			for _, m := range models.DefaultModels() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", m.ID, m.DisplayName, m.InputTokenLimit, m.OutputTokenLimit)
			}
			return w.Flush()
		},
	}
}
