package mood

import "strings"

// Label 表示从聊天消息中推断出的心情。
type Label string

const (
	Neutral  Label = "neutral"
	Happy    Label = "happy"
	Proud    Label = "proud"
	Low      Label = "low"
	Stressed Label = "stressed"
	Tired    Label = "tired"
)

// Reading 给出心情识别结果及得分。
type Reading struct {
	Mood  Label
	Score int
}

type bucket struct {
	label    Label
	keywords []string
}

// 顺序即同分时的优先级
var buckets = []bucket{
	{Low, []string{
		"难过", "伤心", "失落", "沮丧", "哭", "孤单", "寂寞", "失望", "委屈", "低落", "心碎",
		"sad", "upset", "lonely", "depressed", "cry",
	}},
	{Stressed, []string{
		"焦虑", "压力", "烦", "紧张", "生气", "受够了", "崩溃", "抓狂", "失眠", "担心",
		"stressed", "anxious", "angry", "annoyed", "worried",
	}},
	{Tired, []string{
		"累", "困", "疲惫", "没精神", "熬夜", "腰酸", "久坐", "头疼",
		"tired", "exhausted", "sleepy",
	}},
	{Proud, []string{
		"打卡", "完成", "坚持", "达标", "一万步", "喝完", "做到了", "跑完", "新纪录",
		"done", "finished", "goal",
	}},
	{Happy, []string{
		"开心", "高兴", "快乐", "太好了", "太棒了", "哈哈", "喜欢", "好耶", "舒服",
		"happy", "great", "awesome", "love", "thanks",
	}},
}

// Detect 根据关键词和感叹号推断消息的心情。
func Detect(text string) Reading {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Reading{Mood: Neutral}
	}

	scores := make(map[Label]int, len(buckets))
	for _, b := range buckets {
		for _, word := range b.keywords {
			if strings.Contains(normalized, word) {
				scores[b.label] += 3
			}
		}
	}

	exclamations := strings.Count(text, "!") + strings.Count(text, "！")
	if exclamations > 0 && (scores[Happy] > 0 || scores[Proud] > 0) {
		if scores[Proud] >= scores[Happy] {
			scores[Proud] += exclamations
		} else {
			scores[Happy] += exclamations
		}
	}

	best := Reading{Mood: Neutral}
	for _, b := range buckets {
		if s := scores[b.label]; s > best.Score {
			best = Reading{Mood: b.label, Score: s}
		}
	}
	return best
}

// Guidance 返回回复时应采用的语气提示，Neutral 返回空串。
func Guidance(label Label) string {
	switch label {
	case Low:
		return "对方情绪低落，先共情和安慰，再轻轻提一个照顾自己的小建议。"
	case Stressed:
		return "对方压力较大或烦躁，语气要稳，建议深呼吸或短暂休息。"
	case Tired:
		return "对方很疲惫，提醒补水、起身活动或早点休息。"
	case Proud:
		return "对方刚完成了健康目标，热情地表扬并鼓励坚持。"
	case Happy:
		return "对方心情很好，保持轻快，分享这份好心情。"
	default:
		return ""
	}
}
