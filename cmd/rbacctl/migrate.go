package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/migrate"
)

func newMigrateCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	open := func() (*migrate.Migrator, error) {
		return migrate.New(e.config.PGDSN)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()
			if err := m.Up(); err != nil {
				return err
			}
			return printStatus(cmd, m)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			m, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()
			if err := m.Down(steps); err != nil {
				return err
			}
			return printStatus(cmd, m)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()
			return printStatus(cmd, m)
		},
	})
	return cmd
}

func printStatus(cmd *cobra.Command, m *migrate.Migrator) error {
	st, err := m.Status()
	if err != nil {
		return err
	}
	if !st.Applied {
		fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", st.Version, st.Dirty)
	return nil
}
