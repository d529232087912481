package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/holotrack/internal/plotting"
)

func newPlotCmd() *cobra.Command {
	var (
		sessionID string
		output    string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Plot a session's delta translation against cycle number",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if sessionID == "" {
				latest, err := db.LatestSession()
				if err != nil {
					return err
				}
				sessionID = latest.ID
			}
			poses, err := db.DeltaPoses(sessionID, limit)
			if err != nil {
				return err
			}
			if output == "" {
				output = fmt.Sprintf("trajectory-%s.png", shortID(sessionID))
			}
			if err := plotting.SaveTranslationPNG(output, poses, "Session "+sessionID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d poses to %s\n", len(poses), output)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (default: the latest session)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output image path; extension picks the format")
	cmd.Flags().IntVar(&limit, "limit", 0, "Plot at most this many poses (0 = all)")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
