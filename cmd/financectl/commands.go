package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vetcare/clinic-finance/api/controllers/dto"
	"github.com/vetcare/clinic-finance/pkg/enums"
)

func newReconcileCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <invoice-id>",
		Short: "Recompute an invoice status from its payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("invoice id", args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), open, func(s *session) error {
				result, err := s.Services.Invoices.Reconcile(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func newMarkOverdueCmd(open opener) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "mark-overdue",
		Short: "Move pending invoices past their due date to overdue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return withSession(cmd.Context(), open, func(s *session) error {
				n, err := s.Services.Invoices.MarkOverdue(cmd.Context(), time.Now().UTC(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "marked %d invoice(s) overdue\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum invoices to update")
	return cmd
}

func newRetryNotificationsCmd(open opener) *cobra.Command {
	var (
		limit    int
		lookback time.Duration
	)
	cmd := &cobra.Command{
		Use:   "retry-notifications",
		Short: "Resend receipts and refund notices that were never delivered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			if lookback <= 0 {
				return fmt.Errorf("--lookback must be positive")
			}
			since := time.Now().UTC().Add(-lookback)
			return withSession(cmd.Context(), open, func(s *session) error {
				receipts, err := s.Services.Payments.RetryReceipts(cmd.Context(), since, limit)
				if err != nil {
					return fmt.Errorf("retry receipts: %w", err)
				}
				notices, err := s.Services.Refunds.RetryNotifications(cmd.Context(), since, limit)
				if err != nil {
					return fmt.Errorf("retry refund notices: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "retried %d receipt(s) and %d refund notice(s)\n", receipts, notices)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum notifications of each kind")
	cmd.Flags().DurationVar(&lookback, "lookback", 7*24*time.Hour, "how far back to look for undelivered notifications")
	return cmd
}

func newPendingRefundsCmd(open opener) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pending-refunds",
		Short: "List refund requests awaiting a staff decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 || limit > 200 {
				return fmt.Errorf("--limit must be between 1 and 200")
			}
			return withSession(cmd.Context(), open, func(s *session) error {
				pending, err := s.Services.Refunds.ListPending(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), dto.NewRefundRequests(pending))
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum requests to list")
	return cmd
}

func newSetTierCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "set-tier <loyalty-account-id> <tier>",
		Short: "Override the tier of a loyalty account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("loyalty account id", args[0])
			if err != nil {
				return err
			}
			tier, err := enums.ParseLoyaltyTier(args[1])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), open, func(s *session) error {
				account, err := s.Services.Loyalty.UpdateTier(cmd.Context(), id, tier)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), account)
			})
		},
	}
}

func newClaimCouponCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "claim-coupon <template-id> <owner-id>",
		Short: "Issue a personal copy of a global coupon to an owner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			templateID, err := parseID("template id", args[0])
			if err != nil {
				return err
			}
			ownerID, err := parseID("owner id", args[1])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), open, func(s *session) error {
				coupon, err := s.Services.Coupons.Claim(cmd.Context(), templateID, ownerID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), dto.NewCoupon(coupon))
			})
		},
	}
}
