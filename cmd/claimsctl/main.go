// claimsctl runs maintenance jobs against the claims database, redis and the
// blob bucket. It reads the same environment as the API server.
//
// Usage (from backend directory):
//
//	go run ./cmd/claimsctl migrate
//	go run ./cmd/claimsctl staff-token --username lucia --ttl 12h
//	go run ./cmd/claimsctl orphans --min-age 24h --delete
//	go run ./cmd/claimsctl pubsub-setup --subscription claims-notify-push --endpoint https://api.example.com/pubsub/notifications
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "claimsctl",
		Short:         "Maintenance commands for the claims backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(), newStaffTokenCmd(), newRevokeTokenCmd(), newOrphansCmd(), newPubSubSetupCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "claimsctl: %v\n", err)
		os.Exit(1)
	}
}
