package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/a2639443196/my-vue-web/backend/internal/broadcast"
	chatmodel "github.com/a2639443196/my-vue-web/backend/internal/model/chat"
	"github.com/a2639443196/my-vue-web/backend/internal/service/ai"
	"github.com/a2639443196/my-vue-web/backend/internal/service/chat"
	"github.com/a2639443196/my-vue-web/backend/internal/session"
	"github.com/a2639443196/my-vue-web/backend/internal/storage"
)

var (
	profilePath string
	noRelay     bool
)

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Chat through the local-first store shared with other tabs",
	Long: `Runs one chat tab. Tabs that use the same --profile share their history
through SQLite; tabs connected to the same relay see each other's messages and
presence live.

Commands: /who, /away, /online, /quit`,
	RunE: runLocal,
}

func init() {
	localCmd.Flags().StringVar(&profilePath, "profile", filepath.Join("data", "chattab-profile.db"), "SQLite file standing in for the browser profile storage")
	localCmd.Flags().BoolVar(&noRelay, "no-relay", false, "Run single-tab without the broadcast relay")
}

func runLocal(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if dir := filepath.Dir(profilePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create profile directory: %w", err)
		}
	}
	kv, err := storage.OpenSQLite(profilePath)
	if err != nil {
		return err
	}
	defer kv.Close()

	var medium broadcast.Medium
	if !noRelay {
		medium = &broadcast.WSMedium{BaseURL: toWebSocketURL(serverURL), Logger: logger}
	}

	sess := session.New()
	if user, ok := currentUser(); ok {
		sess.Login(user, "")
	}

	store := chat.NewStore(sess, kv, medium, chat.Options{
		Room:              cfg.Chat.Room,
		HistoryLimit:      cfg.Chat.HistoryLimit,
		PresenceTimeout:   cfg.Chat.PresenceTimeout,
		HeartbeatInterval: cfg.Chat.HeartbeatInterval,
		ReplyTimeout:      cfg.Chat.ReplyTimeout,
		DisableCompanions: cfg.Chat.DisableCompanions,
		Replier:           newReplier(ctx),
		Logger:            logger,
	})

	changes, notify := notifier()
	unsubscribe := store.Subscribe(notify)
	defer unsubscribe()

	store.Initialize()
	defer store.Unload()

	out := cmd.OutOrStdout()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return renderLoop(gctx, newRenderer(out), changes, store.Messages)
	})
	g.Go(func() error {
		return inputLoop(gctx, readLines(cmd.InOrStdin()), func(line string) error {
			switch line {
			case "/who":
				for _, p := range store.OnlineUsers() {
					fmt.Fprintf(out, "  %s %s (%s)\n", p.Avatar, p.Name, p.Status)
				}
			case "/away":
				store.AnnouncePresence(chatmodel.StatusAway)
			case "/online":
				store.AnnouncePresence(chatmodel.StatusOnline)
			default:
				if strings.HasPrefix(line, "/") {
					fmt.Fprintf(out, "unknown command %s\n", line)
					return nil
				}
				store.SendMessage(line)
			}
			return nil
		})
	})
	return finish(g.Wait())
}

// newReplier returns the LLM replier when Ark is configured; nil keeps the
// store on its canned replies.
func newReplier(ctx context.Context) chat.Replier {
	if !cfg.AI.Enabled() {
		logger.Debug("Ark 凭证未配置，陪伴者使用预设回复")
		return nil
	}

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		logger.Warn("failed to create chat model, using canned replies", zap.Error(err))
		return nil
	}
	svc, err := ai.NewService(ctx, chatModel, logger)
	if err != nil {
		logger.Warn("failed to initialize AI service, using canned replies", zap.Error(err))
		return nil
	}
	return svc
}
