package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/google-proxy/pkg/usage"
)

func newStatsCmd(configPath *string) *cobra.Command {
	var (
		allStores bool
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show token usage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			tr, err := usage.Open(db.DB())
			if err != nil {
				return err
			}
			ctx := context.Background()
			storeID := storeNamespace(cfg)

			if sessionID != "" {
				recs, err := tr.SessionRecords(ctx, storeID, sessionID)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No requests found for session.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "#\tTIME\tMODEL\tCACHED\tPROMPT\tCOMPLETION\tTOTAL")
				for i, r := range recs {
					fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%d\t%d\t%d\n",
						i+1, r.CreatedAt.Format("2006-01-02T15:04:05"), r.Model, r.Cached, r.PromptTokens, r.CompletionTokens, r.TotalTokens)
				}
				return w.Flush()
			}

			if allStores {
				storeID = ""
			}
			summaries, err := tr.Summary(ctx, storeID)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage recorded yet.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STORE\tMODEL\tREQUESTS\tCACHED\tPROMPT\tCOMPLETION\tTOTAL")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					s.StoreID, s.Model, s.RequestCount, s.CachedCount, s.TotalPrompt, s.TotalCompletion, s.TotalTokens)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&allStores, "all", false, "show every store in the database")
	cmd.Flags().StringVar(&sessionID, "session", "", "show per-request detail for a session")
	return cmd
}
