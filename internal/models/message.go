package models

import "time"

// Message is a single conversational entry stored in a session's history.

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
	Metadata  MessageMetadata `json:"metadata"`

	// Relevance is transient: recomputed against each query during
	// retrieval, never persisted.
	Relevance float64 `json:"relevance,omitempty"`

	// Compressed marks a synthesized summary that replaced older history.
	Compressed bool `json:"compressed,omitempty"`
}

// MessageMetadata records how a message came to be.
type MessageMetadata struct {
	ToolCalls       []string `json:"tool_calls,omitempty"`
	ToolsUsed       []string `json:"tools_used,omitempty"`
	SynthesizedFrom []string `json:"synthesized_from,omitempty"`
	Confidence      float64  `json:"confidence,omitempty"`
}

// HasToolActivity reports whether the message recorded any tool usage.
func (m *Message) HasToolActivity() bool {
	return len(m.Metadata.ToolCalls) > 0 || len(m.Metadata.ToolsUsed) > 0
}
