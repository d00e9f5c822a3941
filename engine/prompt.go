package engine

import (
	"strings"

	"github.com/becomeliminal/nim-memory/core"
)

// DefaultSystemPrompt is the persona used when Config.SystemPrompt is empty.
const DefaultSystemPrompt = `You are a helpful assistant with a long-term memory.
You remember earlier conversations through insights distilled from them.
When an insight is provided, use it if it helps, and never invent memories
you were not given. Answer clearly and concisely.`

// BuildResponseMessages assembles the generation request: the system prompt
// (with the turn's insight appended), recent session turns, then message.
func BuildResponseMessages(systemPrompt, insight string, history []core.Message, message string) []core.Message {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	var system strings.Builder
	system.WriteString(systemPrompt)
	if insight = strings.TrimSpace(insight); insight != "" {
		system.WriteString("\n\nInsight from past conversations:\n")
		system.WriteString(insight)
	}

	messages := make([]core.Message, 0, len(history)+2)
	messages = append(messages, core.SystemMessage(system.String()))
	messages = append(messages, history...)
	messages = append(messages, core.UserMessage(message))
	return messages
}
