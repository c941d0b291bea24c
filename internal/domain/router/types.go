// Package router decides per message history whether a turn needs data
// tools and which model tier should handle it.
package router

import "strings"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Part is one element of multimodal message content.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is a conversation message as received from the client.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

// Text returns the textual content of the message. Text parts are joined
// with a single space; non-text parts are ignored.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	texts := make([]string, 0, len(m.Parts)+1)
	if m.Content != "" {
		texts = append(texts, m.Content)
	}
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

// Tier is a model class.
type Tier string

const (
	// TierChat is the cheap conversation and vision tier.
	TierChat Tier = "chat"
	// TierTool is the reliable tool-calling tier.
	TierTool Tier = "tool"
)

// Decision reasons.
const (
	ReasonNoUserMessage = "no-user-message"
	ReasonExplicitDB    = "explicit-db-reference"
	ReasonEntityCRUD    = "entity-crud"
	ReasonGeneralChat   = "general-chat"
)

// Decision is the routing outcome for one inbound message history.
type Decision struct {
	NeedsTools bool   `json:"needsTools"`
	Reason     string `json:"reason"`
	Model      string `json:"model"`
	MaxSteps   int    `json:"maxSteps"`
	Tier       Tier   `json:"tier"`
}

// ReasonTag returns the reason without its detail suffix, suitable as a
// low-cardinality metric label.
func (d Decision) ReasonTag() string {
	tag, _, _ := strings.Cut(d.Reason, ":")
	return tag
}

// Models configures the model identifiers and step budgets per tier.
type Models struct {
	Chat         string `json:"chat" yaml:"chat"`
	Tool         string `json:"tool" yaml:"tool"`
	ToolMaxSteps int    `json:"tool_max_steps" yaml:"tool_max_steps"`
}

// DefaultToolMaxSteps bounds the agentic loop on the tool tier.
const DefaultToolMaxSteps = 8

// DefaultModels returns the default tier assignment.
func DefaultModels() Models {
	return Models{
		Chat:         DefaultChatModel,
		Tool:         DefaultToolModel,
		ToolMaxSteps: DefaultToolMaxSteps,
	}
}
