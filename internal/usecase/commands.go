package usecase

import (
	"context"
	"fmt"
	"strings"
)

const emptyMessageReply = "I received your message but it appears to be empty. " +
	"Please send me a text message and I'll be happy to help!"

// commandAliases maps every accepted spelling to its canonical command.
// Matching is case-insensitive on the whole message.
var commandAliases = map[string]string{
	"help": "help", "/help": "help", "?": "help",
	"reset": "reset", "/reset": "reset", "clear": "reset",
	"status": "status", "/status": "status",
	"info": "info", "/info": "info",
}

func parseCommand(message string) (string, bool) {
	cmd, ok := commandAliases[strings.ToLower(strings.TrimSpace(message))]
	return cmd, ok
}

// handleCommand short-circuits the pipeline for literal commands. The
// agent is never invoked and, except for reset, no state is mutated.
func (s *ChatService) handleCommand(ctx context.Context, userID, cmd string) (ChatOutput, error) {
	switch cmd {
	case "reset":
		if err := s.store.DeleteConversation(ctx, userID); err != nil {
			// A false "cleared" confirmation is worse than an apology.
			return ChatOutput{}, newError(ErrorInternal, "store_delete_error", err)
		}
		if s.limits != nil {
			s.limits.Reset(userID)
		}
		return ChatOutput{Command: true, Reply: "Your conversation history has been cleared. Starting fresh!"}, nil
	case "status":
		return ChatOutput{Command: true, Reply: s.statusText()}, nil
	case "info":
		return ChatOutput{Command: true, Reply: s.infoText()}, nil
	default:
		return ChatOutput{Command: true, Reply: s.helpText()}, nil
	}
}

func (s *ChatService) helpText() string {
	return strings.TrimSpace(fmt.Sprintf(`%s Help

I can help with questions, conversations, and general assistance.

Commands:
- help - show this message
- reset - clear conversation history
- status - check my status
- info - about this service

Just text me naturally!`, s.agentName))
}

func (s *ChatService) statusText() string {
	return strings.TrimSpace(fmt.Sprintf(`%s: Online

Memory: active
Ready to help!`, s.agentName))
}

func (s *ChatService) infoText() string {
	hours := int(s.expiration.Hours())
	return strings.TrimSpace(fmt.Sprintf(`%s

AI-powered SMS assistant.
Conversations are remembered for %dh.
Text "reset" to start over.`, s.agentName, hours))
}
