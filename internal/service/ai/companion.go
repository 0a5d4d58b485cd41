// Package ai generates companion replies with an LLM through an eino chain.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/a2639443196/my-vue-web/backend/internal/analysis/mood"
	"github.com/a2639443196/my-vue-web/backend/internal/model/chat"
)

// maxReplyRunes caps a reply so it reads like a chat line.
const maxReplyRunes = 120

// ErrEmptyReply is returned when the model produced no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// Service encapsulates LLM-backed companion replies
type Service struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger *zap.Logger
}

// NewService compiles the reply chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reply chain: %w", err)
	}

	return &Service{chain: runnable, logger: logger.Named("ai")}, nil
}

// Reply asks the model to answer trigger in companion's voice.
func (s *Service) Reply(ctx context.Context, companion chat.Companion, trigger chat.Message) (string, error) {
	reading := mood.Detect(trigger.Content)
	system := BuildCompanionPrompt(companion)
	if guidance := mood.Guidance(reading.Mood); guidance != "" {
		system += "\n\n语气提示：" + guidance
	}

	input := map[string]any{
		"system": system,
		"query":  fmt.Sprintf("%s：%s", trigger.AuthorName, trigger.Content),
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run reply chain: %w", err)
	}

	content := clip(strings.TrimSpace(response.Content), maxReplyRunes)
	if content == "" {
		return "", ErrEmptyReply
	}

	s.logger.Debug("generated companion reply",
		zap.String("companion", companion.ID),
		zap.String("trigger", trigger.ID),
		zap.String("mood", string(reading.Mood)),
		zap.Int("length", utf8.RuneCountInString(content)))
	return content, nil
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
