package domain

// Chat roles as understood by the model service.
const (
	ChatRoleSystem    = "system"
	ChatRoleAssistant = "assistant"
	ChatRoleUser      = "user"
)

// ChatMessage is the provider-agnostic chat message shape sent to the model
// gateway.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
