package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "livechatd",
		Short: "Live hand-off relay for chatbot conversations",
		Long: `livechatd serves the realtime side of chatbot conversations: the
credential endpoint, the transcript API, and a websocket relay (or hosted
pub/sub node) over which human admins take over from the bot.`,
	}

	rootCmd.AddCommand(
		serveCmd(),
		joinCmd(),
		registerCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
