package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the pose log schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				db, err := openDB(cmd)
				if err != nil {
					return err
				}
				defer db.Close()
				return printVersion(cmd, db.MigrateVersion)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				db, err := openDB(cmd)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := db.MigrateDown(); err != nil {
					return err
				}
				return printVersion(cmd, db.MigrateVersion)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				db, err := openDB(cmd)
				if err != nil {
					return err
				}
				defer db.Close()
				return printVersion(cmd, db.MigrateVersion)
			},
		},
	)
	return cmd
}

func printVersion(cmd *cobra.Command, version func() (uint, bool, error)) error {
	v, dirty, err := version()
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", v, state)
	return nil
}
