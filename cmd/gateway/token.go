package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"

	"github.com/Zert3x/spacebar-gateway/internal/config"
	"github.com/Zert3x/spacebar-gateway/pkg/membership"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage connection tokens",
		Long: `Manage the connection tokens clients present in Identify.

Examples:
  gateway token put tok-abc123 175928847299117063
  gateway token revoke tok-abc123`,
	}

	cmd.AddCommand(tokenPutCmd(), tokenRevokeCmd())
	return cmd
}

func openStore() (*membership.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, err := membership.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open membership store: %w", err)
	}
	return store, nil
}

func parseUserID(raw string) (snowflake.ID, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q: %w", raw, err)
	}
	return snowflake.ID(id), nil
}

func tokenPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <token> <user-id>",
		Short: "Store a connection token for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[1])
			if err != nil {
				return err
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.PutToken(context.Background(), args[0], userID); err != nil {
				return err
			}
			fmt.Printf("token stored for user %s\n", userID)
			return nil
		},
	}
}

func tokenRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke a connection token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteToken(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Println("token revoked")
			return nil
		},
	}
}
