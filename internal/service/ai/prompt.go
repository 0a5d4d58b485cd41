package ai

import (
	"fmt"
	"strings"

	"github.com/a2639443196/my-vue-web/backend/internal/model/chat"
)

var companionRules = []string{
	"回复控制在一到两句话，像群聊里的自然发言",
	"围绕喝水、运动、作息和情绪给出温和的提醒或鼓励",
	"不要给出医疗诊断，遇到严重情况建议对方寻求专业帮助",
	"不要提及自己是AI或模型",
}

// BuildCompanionPrompt creates the system prompt for a companion
func BuildCompanionPrompt(companion chat.Companion) string {
	persona := strings.TrimSpace(companion.Persona)
	if persona == "" {
		persona = "友善的健康打卡伙伴"
	}

	return fmt.Sprintf(`你是%s，健康聊天室里的陪伴者。

角色设定：%s

对话规则：
- %s

你会看到一位群友刚发的消息，请用%s的口吻直接回复。`,
		companion.Name,
		persona,
		strings.Join(companionRules, "\n- "),
		companion.Name,
	)
}
