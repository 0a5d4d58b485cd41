package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a2639443196/my-vue-web/backend/internal/analysis/mood"
	"github.com/a2639443196/my-vue-web/backend/internal/model/chat"
)

type fakeChatModel struct {
	reply string
	err   error
	input []*schema.Message
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.input = input
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

var aqua = chat.Companion{ID: "companion-aqua", Name: "小水滴", Persona: "活泼的补水提醒官"}

func TestReplyUsesCompanionPrompt(t *testing.T) {
	fake := &fakeChatModel{reply: "  记得喝水哦！  "}
	svc, err := NewService(context.Background(), fake, nil)
	require.NoError(t, err)

	reply, err := svc.Reply(context.Background(), aqua, chat.Message{ID: "m1", AuthorName: "Ann", Content: "今天好累"})
	require.NoError(t, err)
	assert.Equal(t, "记得喝水哦！", reply)

	require.Len(t, fake.input, 2)
	assert.Equal(t, schema.System, fake.input[0].Role)
	assert.Contains(t, fake.input[0].Content, "小水滴")
	assert.Contains(t, fake.input[0].Content, "活泼的补水提醒官")
	assert.Contains(t, fake.input[0].Content, mood.Guidance(mood.Tired))
	assert.Equal(t, schema.User, fake.input[1].Role)
	assert.Equal(t, "Ann：今天好累", fake.input[1].Content)
}

func TestReplyErrors(t *testing.T) {
	ctx := context.Background()

	failing, err := NewService(ctx, &fakeChatModel{err: errors.New("quota exhausted")}, nil)
	require.NoError(t, err)
	_, err = failing.Reply(ctx, aqua, chat.Message{Content: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exhausted")

	empty, err := NewService(ctx, &fakeChatModel{reply: "   "}, nil)
	require.NoError(t, err)
	_, err = empty.Reply(ctx, aqua, chat.Message{Content: "hi"})
	assert.ErrorIs(t, err, ErrEmptyReply)

	_, err = NewService(ctx, nil, nil)
	assert.Error(t, err)
}

func TestReplyIsClipped(t *testing.T) {
	svc, err := NewService(context.Background(), &fakeChatModel{reply: strings.Repeat("水", 300)}, nil)
	require.NoError(t, err)

	reply, err := svc.Reply(context.Background(), aqua, chat.Message{Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, maxReplyRunes+1, utf8.RuneCountInString(reply))
	assert.True(t, strings.HasSuffix(reply, "…"))
}

func TestBuildCompanionPromptDefaultsPersona(t *testing.T) {
	prompt := BuildCompanionPrompt(chat.Companion{Name: "暖暖"})
	assert.Contains(t, prompt, "你是暖暖")
	assert.Contains(t, prompt, "友善的健康打卡伙伴")
}
