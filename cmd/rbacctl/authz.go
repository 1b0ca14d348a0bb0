package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
	"github.com/odyssey-erp/odyssey-rbac/jobs"
)

// resolveUser accepts a numeric id or a username.
func resolveUser(ctx context.Context, repo rbac.Repository, ref string) (rbac.User, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return repo.GetUser(ctx, id)
	}
	user, _, err := repo.GetCredentials(ctx, rbac.NormalizeUsername(ref))
	return user, err
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid id %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func newCheckCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "check <user> <codename>",
		Short: "Report whether a user holds a permission (exit 2 when denied)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withStack(cmd.Context(), func(s *stack) error {
				user, err := resolveUser(cmd.Context(), s.repo, args[0])
				if err != nil {
					return err
				}
				d, err := s.evaluator.Decide(cmd.Context(), user.ID, []string{args[1]}, true)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case d.Allowed:
					fmt.Fprintf(out, "allowed: %s has %s\n", user.Username, args[1])
					return nil
				case d.Inactive:
					fmt.Fprintf(out, "denied: %s is inactive\n", user.Username)
				default:
					fmt.Fprintf(out, "denied: %s lacks %s\n", user.Username, args[1])
				}
				return errDenied
			})
		},
	}
}

func newReconcileCmd(e *env) *cobra.Command {
	var allowEmpty bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replace a user's roles or a role's permissions in one transaction",
	}
	cmd.PersistentFlags().BoolVar(&allowEmpty, "empty", false, "allow an empty target set (removes everything)")

	printResult := func(cmd *cobra.Command, res rbac.ReconcileResult) {
		fmt.Fprintf(cmd.OutOrStdout(), "added=%v removed=%v current=%v\n", res.Added, res.Removed, res.Current)
	}
	target := func(args []string) ([]int64, error) {
		ids, err := parseIDs(args)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 && !allowEmpty {
			return nil, fmt.Errorf("no ids given; pass --empty to remove everything")
		}
		return ids, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "user <user> [roleID...]",
		Short: "Set the roles granted to a user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := target(args[1:])
			if err != nil {
				return err
			}
			return e.withStack(cmd.Context(), func(s *stack) error {
				user, err := resolveUser(cmd.Context(), s.repo, args[0])
				if err != nil {
					return err
				}
				res, err := s.reconciler.ReconcileUserRoles(cmd.Context(), user.ID, ids)
				if err != nil {
					return err
				}
				printResult(cmd, res)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "role <roleID> [permissionID...]",
		Short: "Set the permissions attached to a role",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roleIDs, err := parseIDs(args[:1])
			if err != nil || len(roleIDs) != 1 {
				return fmt.Errorf("invalid role id %q", args[0])
			}
			ids, err := target(args[1:])
			if err != nil {
				return err
			}
			return e.withStack(cmd.Context(), func(s *stack) error {
				res, err := s.reconciler.ReconcileRolePermissions(cmd.Context(), roleIDs[0], ids)
				if err != nil {
					return err
				}
				printResult(cmd, res)
				return nil
			})
		},
	})
	return cmd
}

func newIntegrityCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "integrity",
		Short: "Run the integrity scan now and print the report as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withStack(cmd.Context(), func(s *stack) error {
				job := jobs.NewIntegrityScanJob(s.service, e.logger, nil)
				report, err := job.Run(cmd.Context(), "cli")
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			})
		},
	}
}
