package agent

import (
	"context"
	"errors"

	"github.com/harun/mcpagent/pkg/registry"
)

// Role of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolChoiceAuto lets the model decide whether to call tools.
const ToolChoiceAuto = "auto"

// DefaultSystemPrompt instructs the model to act as a Japanese-speaking web
// research agent that drives a browser through tools.
const DefaultSystemPrompt = `あなたはウェブリサーチ用のAIエージェントです。

- Playwright MCPのツールを使ってブラウザを操作することで、ユーザーの依頼に対応します。
- ユーザーには日本語で分かりやすく回答してください。
- ブラウザやタブを閉じるツール（browser_close 等）は、ユーザーから明示的に指示があった場合を除き使用しないでください。`

// ErrMaxRoundsExceeded is returned when the model keeps requesting tools
// beyond the configured round cap.
var ErrMaxRoundsExceeded = errors.New("max rounds exceeded")

// ToolInvocation is one function call requested by the model. Arguments is
// the raw JSON text the model produced.
type ToolInvocation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of a conversation.
type Message struct {
	Role       Role             `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ToolInvocation `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

// CompletionRequest is what the loop sends to the model each round.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Tools       []registry.ToolSpec
	ToolChoice  string
	Temperature float64
	MaxTokens   int
}

// Completion is the model's reply.
type Completion struct {
	Content   string
	ToolCalls []ToolInvocation
}

// ModelService is the model boundary.
type ModelService interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Backend() string
}

// ToolSource supplies the function list offered to the model.
type ToolSource interface {
	ModelTools() []registry.ToolSpec
}

// Dispatcher executes one tool invocation and always returns text.
type Dispatcher interface {
	Dispatch(ctx context.Context, name, rawArgs string) string
}

// Result is the outcome of one query.
type Result struct {
	ConversationID string    `json:"conversation_id"`
	Answer         string    `json:"answer"`
	Messages       []Message `json:"messages"`
	Rounds         int       `json:"rounds"`
	ToolCalls      int       `json:"tool_calls"`
}
