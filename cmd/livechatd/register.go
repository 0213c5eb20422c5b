package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mchatly/livechat/internal/config"
	"github.com/mchatly/livechat/internal/db"
	"github.com/mchatly/livechat/internal/domain"
	"github.com/mchatly/livechat/internal/store"
)

// registerCmd provisions a chatbot record with a fresh widget token, for
// deployments without the dashboard in front.
func registerCmd() *cobra.Command {
	var (
		ownerID string
		name    string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a chatbot and print its widget token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerID == "" || name == "" {
				return fmt.Errorf("--owner and --name are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.Connect(ctx, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			cb := &domain.Chatbot{
				OwnerID: ownerID,
				Name:    name,
				Token:   newWidgetToken(),
			}
			if err := store.New(pool).CreateChatbot(ctx, cb); err != nil {
				return err
			}

			fmt.Printf("chatbot id:   %s\n", cb.ID)
			fmt.Printf("widget token: %s\n", cb.Token)
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "owning user ID")
	cmd.Flags().StringVar(&name, "name", "", "chatbot display name")
	return cmd
}

// newWidgetToken returns 32 random bytes, base64url without padding.
func newWidgetToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
