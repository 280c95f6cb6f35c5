package models

import "time"

// Session groups a conversation's history with the profile and state that
// retrieval and planning depend on. Owned exclusively by the context store.
type Session struct {
	ID          string                      `json:"id"`
	Messages    []*Message                  `json:"messages"`
	Profile     UserProfile                 `json:"profile"`
	State       SessionState                `json:"state"`
	Knowledge   map[string]*DomainKnowledge `json:"knowledge"`
	LastUpdated time.Time                   `json:"last_updated"`
}

// ResponseStyle is the user's preferred answer register.
type ResponseStyle string

const (
	StyleConcise        ResponseStyle = "concise"
	StyleDetailed       ResponseStyle = "detailed"
	StyleTechnical      ResponseStyle = "technical"
	StyleConversational ResponseStyle = "conversational"
)

// UserProfile accumulates what we learn about the user across messages.
// It is mutated incrementally, never overwritten wholesale.
type UserProfile struct {
	Preferences   map[string]string `json:"preferences,omitempty"`
	Expertise     []string          `json:"expertise,omitempty"`
	QueryPatterns []string          `json:"query_patterns,omitempty"`
	Style         ResponseStyle     `json:"style,omitempty"`
}

// Clone returns a deep copy safe to hand to a child chain context.
func (p UserProfile) Clone() UserProfile {
	out := UserProfile{Style: p.Style}
	if p.Preferences != nil {
		out.Preferences = make(map[string]string, len(p.Preferences))
		for k, v := range p.Preferences {
			out.Preferences[k] = v
		}
	}
	out.Expertise = append([]string(nil), p.Expertise...)
	out.QueryPatterns = append([]string(nil), p.QueryPatterns...)
	return out
}

// SessionState tracks derived conversational state.
type SessionState struct {
	CurrentTopic string `json:"current_topic,omitempty"`

	// ActiveTools keeps at most MaxActiveTools names, oldest evicted first.
	ActiveTools []string `json:"active_tools,omitempty"`

	ContextWindowSize int `json:"context_window_size"`
	CompressionCount  int `json:"compression_count"`

	// ChainDepth counts how many chain contexts separate this session from
	// a root conversation. Caps recursive chaining.
	ChainDepth int `json:"chain_depth"`
}

// MaxActiveTools bounds SessionState.ActiveTools.
const MaxActiveTools = 5

// DomainKnowledge is an upsertable bundle of concepts for one domain.
type DomainKnowledge struct {
	Domain        string            `json:"domain"`
	Concepts      map[string]string `json:"concepts"`
	Relationships []Relationship    `json:"relationships,omitempty"`
	LastAccessed  time.Time         `json:"last_accessed"`
}

// Relationship is a typed edge between two concepts.
type Relationship struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// Clone returns a deep copy of the knowledge entry.
func (d *DomainKnowledge) Clone() *DomainKnowledge {
	out := &DomainKnowledge{
		Domain:       d.Domain,
		Concepts:     make(map[string]string, len(d.Concepts)),
		LastAccessed: d.LastAccessed,
	}
	for k, v := range d.Concepts {
		out.Concepts[k] = v
	}
	out.Relationships = append([]Relationship(nil), d.Relationships...)
	return out
}
