package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lexdesk/claims_backend/config"
	"github.com/spf13/cobra"
)

func newPubSubSetupCmd() *cobra.Command {
	var (
		topic        string
		subscription string
		endpoint     string
		ackDeadline  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "pubsub-setup",
		Short: "Create the notification topic and its push subscription",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if topic == "" {
				topic = strings.TrimSpace(os.Getenv("NOTIFY_TOPIC"))
			}
			if topic == "" {
				return errors.New("--topic or NOTIFY_TOPIC is required")
			}
			ctx := cmd.Context()
			client, err := config.GetPubSubClient(ctx)
			if err != nil {
				return err
			}
			defer config.ClosePubSub()

			t, err := config.EnsureTopic(ctx, client, topic)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "topic %s ready\n", t.ID())
			if subscription == "" {
				return nil
			}
			sub, err := config.EnsurePushSubscription(ctx, client, t, subscription, endpoint, ackDeadline)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "subscription %s -> %s\n", sub.ID(), endpoint)
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic name (defaults to NOTIFY_TOPIC)")
	cmd.Flags().StringVar(&subscription, "subscription", "", "push subscription name; skipped when empty")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "push endpoint, e.g. https://api.example.com/pubsub/notifications")
	cmd.Flags().DurationVar(&ackDeadline, "ack-deadline", 60*time.Second, "subscription ack deadline")
	return cmd
}
