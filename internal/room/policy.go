package room

import "strings"

// DefaultTrigger opens an assistant request in rooms with two or more people.
const DefaultTrigger = "ai:"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged history entry handed to the language model.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DecideReply is the assistant response policy. A lone participant gets a
// reply to everything; in a shared room only messages starting with trigger
// (case-sensitive) are answered, with the trigger stripped and the rest
// trimmed. The returned prompt may be empty when ok is true.
func DecideReply(participants int, content, trigger string) (prompt string, ok bool) {
	switch {
	case participants == 1:
		return content, true
	case participants >= 2:
		if trigger == "" || !strings.HasPrefix(content, trigger) {
			return "", false
		}
		return strings.TrimSpace(content[len(trigger):]), true
	default:
		return "", false
	}
}

func toTurns(history []Message, assistant string) []Turn {
	turns := make([]Turn, 0, len(history))
	for _, m := range history {
		role := RoleUser
		if m.Sender == assistant {
			role = RoleAssistant
		}
		turns = append(turns, Turn{Role: role, Content: m.Content})
	}
	return turns
}
