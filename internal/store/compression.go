package store

import (
	"fmt"
	"strings"

	"chainflow/internal/models"

	"github.com/google/uuid"
)

const (
	maxKeyUtterances   = 3
	utteranceMaxLength = 80
)

// compress replaces all but the most recent window of messages with a
// single synthesized system summary. Summaries stack: a later compression
// summarizes prior summaries plus the new overflow and never re-expands
// detail. Called under s.mu.
func (s *Store) compress(sess *models.Session) {
	window := sess.State.ContextWindowSize
	if window <= 0 || len(sess.Messages) <= window {
		return
	}
	overflow := sess.Messages[:len(sess.Messages)-window]
	tail := sess.Messages[len(sess.Messages)-window:]

	summary := summarizeMessages(overflow)
	summary.SessionID = sess.ID
	summary.CreatedAt = timeNow()

	kept := make([]*models.Message, 0, window+1)
	kept = append(kept, summary)
	kept = append(kept, tail...)
	sess.Messages = kept
	sess.State.CompressionCount++
}

// summarizeMessages builds the replacement summary: union of topics, union
// of tools used, up to three truncated key user utterances, and the count
// of messages compressed away.
func summarizeMessages(overflow []*models.Message) *models.Message {
	var (
		topics     []string
		tools      []string
		utterances []string
		sources    []string
	)
	for _, msg := range overflow {
		sources = append(sources, msg.ID)
		if msg.Role == models.RoleUser {
			if topic := extractTopic(msg.Content); topic != "" && !contains(topics, topic) {
				topics = append(topics, topic)
			}
			if len(utterances) < maxKeyUtterances {
				utterances = append(utterances, truncate(msg.Content, utteranceMaxLength))
			}
		}
		for _, name := range toolNames(msg) {
			if !contains(tools, name) {
				tools = append(tools, name)
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summary of %d earlier messages.", len(overflow))
	if len(topics) > 0 {
		fmt.Fprintf(&b, " Topics: %s.", strings.Join(topics, ", "))
	}
	if len(tools) > 0 {
		fmt.Fprintf(&b, " Tools used: %s.", strings.Join(tools, ", "))
	}
	if len(utterances) > 0 {
		b.WriteString("\nKey requests:")
		for _, u := range utterances {
			b.WriteString("\n- ")
			b.WriteString(u)
		}
	}

	return &models.Message{
		ID:         uuid.NewString(),
		Role:       models.RoleSystem,
		Content:    b.String(),
		Compressed: true,
		Metadata: models.MessageMetadata{
			SynthesizedFrom: sources,
			ToolsUsed:       tools,
			Confidence:      0.8,
		},
	}
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max]) + "..."
}
