package cli

// Pending-approvals register commands.
//
// Commands:
//   triage approvals list [--status pending|approved|rejected|all]
//   triage approvals approve <id> --by <user>
//   triage approvals reject <id> --by <user>

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kubilitics/kubilitics-triage/internal/safety/approval"
)

func newApprovalsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "approvals",
		Aliases: []string{"approval"},
		Short:   "Inspect and resolve decisions awaiting human approval",
	}
	cmd.AddCommand(
		newApprovalsListCmd(a),
		newApprovalsResolveCmd(a, "approve", "Approve a pending decision", true),
		newApprovalsResolveCmd(a, "reject", "Reject a pending decision", false),
	)
	return cmd
}

// ─── List ─────────────────────────────────────────────────────────────────────

func newApprovalsListCmd(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approvals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := parseApprovalStatus(status)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			items, err := rt.register.List(ctx, filter)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(a.stdout, "No approvals found.")
				return nil
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tINCIDENT\tDECISION\tACTION\tRISK\tSTATUS\tCREATED")
			for _, p := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					p.ID, p.IncidentID, p.DecisionType, p.Action, p.Risk, p.Status,
					p.CreatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", string(approval.StatusPending), "filter by status: pending, approved, rejected or all")
	return cmd
}

func parseApprovalStatus(s string) (approval.Status, error) {
	switch st := approval.Status(strings.ToLower(strings.TrimSpace(s))); st {
	case approval.StatusPending, approval.StatusApproved, approval.StatusRejected:
		return st, nil
	case "all", "":
		return "", nil
	default:
		return "", fmt.Errorf("invalid --status %q (must be pending, approved, rejected or all)", s)
	}
}

// ─── Approve / Reject ─────────────────────────────────────────────────────────

func newApprovalsResolveCmd(a *app, use, short string, approve bool) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(by) == "" {
				return fmt.Errorf("--by is required")
			}
			ctx := cmd.Context()
			rt, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			id := args[0]
			if approve {
				err = rt.register.Approve(ctx, id, by)
			} else {
				err = rt.register.Reject(ctx, id, by)
			}
			if err != nil {
				return fmt.Errorf("%s %s: %w", use, id, err)
			}

			p, err := rt.register.Get(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Approval %s %s by %s (incident %s, action %s)\n",
				p.ID, p.Status, p.ResolvedBy, p.IncidentID, p.Action)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "operator resolving the approval")
	return cmd
}
