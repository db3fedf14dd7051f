package usecase

import (
	"fmt"
	"strings"

	"sms-agent/internal/domain"
)

// buildPromptMessages assembles the provider message sequence: system
// prompt, prior turns in order, then the new user message.
func buildPromptMessages(persona, agentName string, history []domain.Turn, message string) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: buildSystemPrompt(persona, agentName)},
	}
	for _, t := range history {
		messages = append(messages, turnToPromptMessage(t)...)
	}
	messages = append(messages, domain.ChatMessage{Role: "user", Content: message})
	return messages
}

func turnToPromptMessage(t domain.Turn) []domain.ChatMessage {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return nil
	}
	role := "assistant"
	if t.Role == domain.RoleUser {
		role = "user"
	}
	return []domain.ChatMessage{{Role: role, Content: text}}
}

func buildSystemPrompt(persona, agentName string) string {
	base := fmt.Sprintf(strings.Join([]string{
		"You are %s, an assistant reached over SMS.",
		"Replies are delivered as text messages: keep them short, plain text, no markdown.",
		"Answer only the current user message, using the conversation so far for context.",
	}, "\n"), agentName)
	persona = normalizePromptInput(persona)
	if persona == "" {
		return base
	}
	return base + "\n\nPersona:\n" + persona
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
