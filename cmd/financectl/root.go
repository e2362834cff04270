package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var version = "dev"

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "financectl",
		Short:         "Operate on clinic invoices, payments, refunds and loyalty",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newReconcileCmd(open),
		newMarkOverdueCmd(open),
		newRetryNotificationsCmd(open),
		newPendingRefundsCmd(open),
		newSetTierCmd(open),
		newClaimCouponCmd(open),
	)
	return root
}

// withSession opens the services for the duration of fn.
func withSession(ctx context.Context, open opener, fn func(*session) error) (err error) {
	s, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.Close())
	}()
	return fn(s)
}

func parseID(kind, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", kind, raw, err)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
