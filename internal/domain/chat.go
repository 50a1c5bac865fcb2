package domain

// Chat roles understood by the completion endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the bot,
// the prompt composer and the chat integration.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
