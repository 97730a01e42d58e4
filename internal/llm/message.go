package llm

// Role values used in conversation history
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged message exchanged with the model service
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CloneMessages returns an independent copy of a message slice
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
