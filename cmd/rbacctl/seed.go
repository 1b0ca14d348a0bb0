package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

func newSeedCmd(e *env) *cobra.Command {
	var opts rbac.SeedOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the core permissions, default roles and an admin account",
		Long: `Create the core permissions, the Administrator and Member roles and an
admin account. Existing rows are kept, so seeding can be repeated.

The admin password is read from --admin-password or RBAC_ADMIN_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.AdminPassword == "" {
				opts.AdminPassword = os.Getenv("RBAC_ADMIN_PASSWORD")
			}
			if opts.AdminUsername != "" && opts.AdminPassword == "" {
				return errors.New("admin password required (--admin-password or RBAC_ADMIN_PASSWORD)")
			}
			return e.withStack(cmd.Context(), func(s *stack) error {
				report, err := s.service.Seed(cmd.Context(), opts)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "permissions created: %d\n", report.PermissionsCreated)
				fmt.Fprintf(out, "roles created: %d\n", report.RolesCreated)
				if opts.AdminUsername != "" {
					fmt.Fprintf(out, "admin %q id=%d created=%t\n", opts.AdminUsername, report.AdminID, report.AdminCreated)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.AdminUsername, "admin-username", "admin", "admin account username (empty skips the account)")
	cmd.Flags().StringVar(&opts.AdminEmail, "admin-email", "admin@example.com", "admin account email")
	cmd.Flags().StringVar(&opts.AdminPassword, "admin-password", "", "admin account password")
	return cmd
}
