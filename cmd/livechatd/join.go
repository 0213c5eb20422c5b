package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mchatly/livechat/internal/client"
	"github.com/mchatly/livechat/internal/domain"
	"github.com/mchatly/livechat/internal/protocol"
)

// joinCmd attaches an admin console to one visitor session over the relay.
func joinCmd() *cobra.Command {
	var (
		relayURL     string
		chatbotToken string
		sessionID    string
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a visitor session as admin from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if chatbotToken == "" || sessionID == "" {
				return fmt.Errorf("--token and --session are required")
			}

			c := client.New(client.Config{
				URL:          relayURL,
				ChatbotToken: chatbotToken,
				SessionID:    sessionID,
				Role:         domain.RoleAdmin,
			})
			c.OnEnvelope(func(env *protocol.Envelope) {
				switch env.Type {
				case protocol.TypeMessage:
					fmt.Printf("\r%s: %s\nYou: ", env.Role, env.Text)
				case protocol.TypeAdminJoined:
					fmt.Print("\r[another admin joined]\nYou: ")
				case protocol.TypeAdminLeft:
					fmt.Print("\r[admin left, bot resumed]\nYou: ")
				}
			})

			if err := c.Connect(context.Background()); err != nil {
				return err
			}
			defer c.Disconnect()

			fmt.Printf("Joined session %s. The visitor's bot is paused while you are here.\n", sessionID)
			fmt.Println("Type a message and press Enter. Type 'exit' to leave.")
			fmt.Println(strings.Repeat("-", 60))

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("You: ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
					break
				}
				if err := c.SendText(line); err != nil {
					fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
					if err := c.Reconnect(cmd.Context()); err != nil {
						return err
					}
				}
			}

			fmt.Println("\nLeft session.")
			return nil
		},
	}

	cmd.Flags().StringVar(&relayURL, "url", "ws://localhost:8080/live-chat", "relay websocket endpoint")
	cmd.Flags().StringVar(&chatbotToken, "token", "", "chatbot widget token")
	cmd.Flags().StringVar(&sessionID, "session", "", "visitor session ID")
	return cmd
}
