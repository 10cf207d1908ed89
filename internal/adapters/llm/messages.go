package llm

import (
	"strings"

	"github.com/manthysbr/aulerag/internal/core/domain"
)

// splitSystem separates system messages from the conversation. Several
// system messages are joined with a blank line.
func splitSystem(messages []domain.Message) (string, []domain.Message) {
	var system []string
	rest := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

func userPrompt(prompt string) []domain.Message {
	return []domain.Message{domain.NewMessage(domain.RoleUser, prompt)}
}
