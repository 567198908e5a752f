package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/google-proxy/pkg/conversation"
)

func newSessionsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List persisted conversation sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			sessions, err := conversation.ListStored(context.Background(), db, storeNamespace(cfg))
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION ID\tTURNS\tLAST ACTIVITY")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%d\t%s\n", s.ID, len(s.Turns), s.UpdatedAt.Format("2006-01-02T15:04:05"))
			}
			return w.Flush()
		},
	}
}
