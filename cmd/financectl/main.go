// Command financectl runs one-off finance operations against the clinic
// database: reconciliation, overdue sweeps, notification retries and manual
// loyalty or coupon adjustments.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/vetcare/clinic-finance/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "financectl"})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(openServices).ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "financectl: %v\n", err)
		os.Exit(1)
	}
}
