// Command posetool is the operator toolbox: a synthetic headset peer, pose
// log plots and migrations, and capture replay.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/holotrack/internal/posedb"
	"github.com/banshee-data/holotrack/internal/version"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "posetool",
		Short:         "Tools for the holotrack daemon and its pose log",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("db", "holotrack.db", "Path to the SQLite pose log")

	root.AddCommand(
		newPeerCmd(),
		newSessionsCmd(),
		newPlotCmd(),
		newMigrateCmd(),
		newReplayCmd(),
	)
	return root
}

func openDB(cmd *cobra.Command) (*posedb.DB, error) {
	path, err := cmd.Flags().GetString("db")
	if err != nil {
		return nil, err
	}
	db, err := posedb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pose log %s: %w", path, err)
	}
	return db, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
