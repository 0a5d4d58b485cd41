package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/a2639443196/my-vue-web/backend/internal/service/room"
)

var roomID string

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Chat in a server-backed room",
	Long: `Connects to the room socket of the chat server and keeps reconnecting
while the server is unreachable.

Commands: /who, /typing, /quit`,
	RunE: runRoom,
}

func init() {
	roomCmd.Flags().StringVar(&roomID, "room", room.DefaultRoomID, "Room to join")
}

func runRoom(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	user, ok := currentUser()
	if !ok {
		return errors.New("--user-id is required to join a room")
	}

	changes, notify := notifier()
	client, err := room.NewClient(room.ClientOptions{
		BaseURL:      serverURL,
		RoomID:       roomID,
		User:         user,
		HistoryLimit: cfg.Chat.HistoryLimit,
		OnChange:     notify,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		logger.Warn("room unavailable, retrying in background", zap.Error(err))
	}
	if err := client.Sync(ctx); err != nil {
		logger.Warn("failed to load room history", zap.Error(err))
	}

	out := cmd.OutOrStdout()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return renderLoop(gctx, newRenderer(out), changes, client.Messages)
	})
	g.Go(func() error {
		return inputLoop(gctx, readLines(cmd.InOrStdin()), func(line string) error {
			if line == "/who" {
				for _, p := range client.OnlineUsers() {
					fmt.Fprintf(out, "  %s %s\n", p.Avatar, p.Username)
				}
				return nil
			}
			if line == "/typing" {
				if names := client.TypingUsers(); len(names) > 0 {
					fmt.Fprintf(out, "  %s 正在输入…\n", strings.Join(names, "、"))
				}
				return nil
			}
			if strings.HasPrefix(line, "/") {
				fmt.Fprintf(out, "unknown command %s\n", line)
				return nil
			}
			if err := client.SendMessage(line); err != nil {
				// 未连接时提示用户，继续等待重连
				fmt.Fprintln(out, err.Error())
			}
			return nil
		})
	})
	return finish(g.Wait())
}
