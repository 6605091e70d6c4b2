package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"approvalflow/internal/approval/models"
	"approvalflow/pkg/requestcontext"
)

func newSweepCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue approval levels once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sweeper, err := a.sweeper()
			if err != nil {
				return err
			}
			n, err := sweeper.SweepOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d approval level(s)\n", n)
			return nil
		},
	}
}

func newConfigureCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "configure FILE",
		Short: "Create or replace workflow definitions from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.configs.ApplyFile(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d workflow configuration(s)\n", n)
			return nil
		},
	}
}

func newWorkflowsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect and toggle configured workflows",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every configured workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			configs, err := a.configs.List(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), configs)
		},
	})

	toggle := func(use, short string, enable bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " MODULE SERVICE",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				a, err := newApp(ctx, c.cfg, c.logger)
				if err != nil {
					return err
				}
				defer a.Close()

				if enable {
					err = a.configs.Enable(ctx, args[0], args[1])
				} else {
					err = a.configs.Disable(ctx, args[0], args[1])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s.%s %sd\n", args[0], args[1], use)
				return nil
			},
		}
	}
	cmd.AddCommand(
		toggle("enable", "Gate the service again", true),
		toggle("disable", "Stop gating the service; it then fails closed as unconfigured", false),
	)
	return cmd
}

type statusOutput struct {
	*models.WorkflowStatus
	Audit []*models.AuditEntry `json:"audit,omitempty"`
}

func newStatusCmd(c *cli) *cobra.Command {
	var withAudit bool
	cmd := &cobra.Command{
		Use:   "status SERVICE_REQUEST_ID",
		Short: "Show the aggregated approval status of a service request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.manager.GetStatus(ctx, args[0])
			if err != nil {
				return err
			}
			out := statusOutput{WorkflowStatus: status}
			if withAudit {
				if out.Audit, err = a.manager.AuditTrail(ctx, args[0]); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&withAudit, "audit", false, "include the audit trail")
	return cmd
}

func newApproveCmd(c *cli) *cobra.Command {
	var token, comments string
	cmd := &cobra.Command{
		Use:   "approve APPROVAL_REQUEST_ID",
		Short: "Approve one pending approval level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.resolve(cmd, tokenFrom(token), func(ctx context.Context, a *app, actor requestcontext.Actor) (*models.Request, error) {
				return a.manager.Approve(ctx, args[0], actor, comments)
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token of the approver (default $APPROVALFLOW_TOKEN)")
	cmd.Flags().StringVar(&comments, "comments", "", "optional approval comments")
	return cmd
}

func newRejectCmd(c *cli) *cobra.Command {
	var token, reason string
	cmd := &cobra.Command{
		Use:   "reject APPROVAL_REQUEST_ID",
		Short: "Reject one pending approval level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return fmt.Errorf("--reason is required")
			}
			return c.resolve(cmd, tokenFrom(token), func(ctx context.Context, a *app, actor requestcontext.Actor) (*models.Request, error) {
				return a.manager.Reject(ctx, args[0], actor, reason)
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token of the approver (default $APPROVALFLOW_TOKEN)")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

// resolve authenticates the caller, runs fn and prints the updated level.
func (c *cli) resolve(cmd *cobra.Command, token string, fn func(context.Context, *app, requestcontext.Actor) (*models.Request, error)) error {
	a, err := newApp(cmd.Context(), c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, err := a.authenticate(cmd.Context(), token)
	if err != nil {
		return err
	}
	actor, _ := requestcontext.ActorFrom(ctx)
	updated, err := fn(ctx, a, actor)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), updated)
}
