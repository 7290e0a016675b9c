package ai

// Standard role tokens. RoleModel is the internal assistant token used by the
// session log; adapters translate it to whatever their vendor expects.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleModel     = "model"
	RoleSystem    = "system"
)

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string // "user" | "assistant" | "model" | "system"
	Content string
}

// ChatRequest defines the input to an LLM chat completion. Messages are in
// conversation order, oldest first.
type ChatRequest struct {
	Messages          []ChatMessage
	Model             string
	SystemInstruction string
	JSONMode          bool
	Temperature       *float64
	MaxTokens         *int
}

// Usage carries token counters when the vendor reports them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// ChatResponse is a normalized response from an LLM.
type ChatResponse struct {
	Text  string
	Model string
	Usage *Usage
}

// IsAssistantRole reports whether role is one of the assistant spellings.
func IsAssistantRole(role string) bool {
	return role == RoleAssistant || role == RoleModel
}
