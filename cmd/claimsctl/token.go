package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lexdesk/claims_backend/config"
	"github.com/lexdesk/claims_backend/middlewares"
	"github.com/spf13/cobra"
)

func newStaffTokenCmd() *cobra.Command {
	var (
		username string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "staff-token",
		Short: "Issue a session token for a staff member",
		RunE: func(cmd *cobra.Command, _ []string) error {
			username = strings.TrimSpace(username)
			if username == "" {
				return errors.New("--username is required")
			}
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			ctx := cmd.Context()
			rdb := config.ConnectRedisWithRetry(ctx)
			if rdb == nil {
				return errors.New("redis not reachable")
			}
			defer rdb.Close()

			token := uuid.NewString()
			if err := config.SetRedisValue(ctx, rdb, middlewares.SessionKey(token), username, ttl); err != nil {
				return fmt.Errorf("store token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "staff username recorded with the session")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func newRevokeTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-token <token>",
		Short: "Delete a staff session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rdb := config.ConnectRedisWithRetry(ctx)
			if rdb == nil {
				return errors.New("redis not reachable")
			}
			defer rdb.Close()
			return config.RemoveRedisKey(ctx, rdb, middlewares.SessionKey(args[0]))
		},
	}
}
