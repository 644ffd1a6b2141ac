package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/valet/pkg/models"
)

// BuildSystemPrompt assembles the system prompt for one completion turn:
// persona, the current tool catalog with input schemas, the user's stored
// preferences, and the directive format the response parser understands.
// Preference keys are sorted so the prompt is deterministic.
func BuildSystemPrompt(tools []models.Tool, preferences map[string]string) string {
	var b strings.Builder

	b.WriteString("You are valet, a personal assistant that operates the user's computer ")
	b.WriteString("through a fixed set of tools. Be concise and direct. Never invent tools ")
	b.WriteString("or claim to have done something you did not request through a tool.\n\n")

	if len(tools) == 0 {
		b.WriteString("No tools are available right now. Answer conversationally and tell ")
		b.WriteString("the user when a request would need device access.\n")
	} else {
		b.WriteString("Available tools:\n")
		for _, tool := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Description)
			if len(tool.InputSchema) > 0 {
				fmt.Fprintf(&b, "  input schema: %s\n", string(tool.InputSchema))
			}
		}
		b.WriteString("\nTo run a tool, emit a fenced block:\n")
		b.WriteString("```action\n{\"tool\": \"<name>\", \"args\": {...}}\n```\n")
		b.WriteString("Emit one block per tool call, in order. ")
		b.WriteString("Anything outside the blocks is shown to the user as your reply.\n")
	}

	b.WriteString("\nTo run something later or on a recurrence, emit:\n")
	b.WriteString("```schedule\n{\"when\": \"<time or cron>\", \"tool\": \"<name>\", \"args\": {...}, \"description\": \"<short label>\"}\n```\n")
	b.WriteString("\"when\" accepts forms like \"in 20 minutes\", \"every day at 9am\", ")
	b.WriteString("\"tomorrow at 6pm\", or a 5-field cron expression.\n")

	b.WriteString("\nWhen the user states a lasting fact about themselves, record it:\n")
	b.WriteString("```preference\n{\"key\": \"<name>\", \"value\": \"<fact>\"}\n```\n")

	if len(preferences) > 0 {
		b.WriteString("\nKnown user preferences:\n")
		keys := make([]string, 0, len(preferences))
		for k := range preferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, preferences[k])
		}
	}

	return b.String()
}
