// Command chattab runs a chat "tab" in the terminal. The local subcommand
// drives the local-first chat store over SQLite storage and the broadcast
// relay; the room subcommand talks to the server-backed chat room.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a2639443196/my-vue-web/backend/internal/config"
	"github.com/a2639443196/my-vue-web/backend/internal/logging"
	"github.com/a2639443196/my-vue-web/backend/internal/session"
)

var (
	// Global flags
	verbose   bool
	serverURL string
	userID    string
	username  string
	avatar    string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chattab",
	Short: "Terminal client for the Wellness Hub chat",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		// 日志写到 stderr，不打断聊天输出
		logger, err = logging.New(cfg.Log)
		if err != nil {
			return err
		}
		if serverURL == "" {
			serverURL = cfg.Chat.ServerURL
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Chat server URL (default: CHAT_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&userID, "user-id", "", "Signed-in user id; empty chats as a guest")
	rootCmd.PersistentFlags().StringVar(&username, "username", "", "Display name of the signed-in user")
	rootCmd.PersistentFlags().StringVar(&avatar, "avatar", "", "Avatar of the signed-in user")

	rootCmd.AddCommand(localCmd)
	rootCmd.AddCommand(roomCmd)
}

func currentUser() (session.User, bool) {
	if userID == "" {
		return session.User{}, false
	}
	name := username
	if name == "" {
		name = userID
	}
	return session.User{ID: userID, Username: name, Avatar: avatar}, true
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
