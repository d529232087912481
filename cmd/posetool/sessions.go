package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			sessions, err := db.Sessions()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tPEER\tSIZE\tSTARTED\tPOSES\tEND")
			for _, s := range sessions {
				n, err := db.CountDeltaPoses(s.ID)
				if err != nil {
					return err
				}
				end := s.EndReason
				if s.EndedAt.IsZero() {
					end = "live"
				}
				fmt.Fprintf(w, "%s\t%s\t%dx%d\t%s\t%d\t%s\n",
					s.ID, s.Peer, s.Width, s.Height, s.StartedAt.Format(time.RFC3339), n, end)
			}
			return w.Flush()
		},
	}
}
