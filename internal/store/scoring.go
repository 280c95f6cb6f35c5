package store

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"chainflow/internal/models"
)

// Relevance scoring weights. The composite score is a ranking heuristic,
// not a probability: term overlap + recency + role + tool usage, decayed
// exponentially by message age in days.
const (
	termMatchScore = 0.3
	recencyWeight  = 0.25
	toolUsageBonus = 0.15
	ageDecayPerDay = 0.1
	minTermLength  = 3
)

var roleBonus = map[models.Role]float64{
	models.RoleUser:      0.2,
	models.RoleAssistant: 0.1,
	models.RoleSystem:    0.05,
}

// RetrieveRelevantContext scores every stored message against the query and
// returns the top maxMessages by descending relevance (stable: ties keep
// original order), plus domain knowledge whose label or concept keys appear
// in the query, plus the live profile.
func (s *Store) RetrieveRelevantContext(sessionID, query string, maxMessages int) (*models.RetrievedContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("retrieve context for %s: %w", sessionID, ErrSessionNotFound)
	}
	if maxMessages <= 0 {
		maxMessages = s.cfg.DefaultMaxMessages
	}

	terms := queryTerms(query)
	now := timeNow()

	scored := make([]*models.Message, 0, len(sess.Messages))
	for i, msg := range sess.Messages {
		cp := *msg
		cp.Relevance = scoreMessage(msg, terms, i, len(sess.Messages), now)
		scored = append(scored, &cp)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Relevance > scored[j].Relevance
	})
	if len(scored) > maxMessages {
		scored = scored[:maxMessages]
	}

	total := 0.0
	for _, msg := range scored {
		total += msg.Relevance
	}

	result := &models.RetrievedContext{
		Messages:   scored,
		Profile:    sess.Profile.Clone(),
		TotalScore: total,
	}
	lowerQuery := strings.ToLower(query)
	for _, entry := range sess.Knowledge {
		if domainMatches(entry, lowerQuery) {
			entry.LastAccessed = now
			result.Domains = append(result.Domains, entry.Clone())
		}
	}
	sort.Slice(result.Domains, func(i, j int) bool {
		return result.Domains[i].Domain < result.Domains[j].Domain
	})
	return result, nil
}

func scoreMessage(msg *models.Message, terms []string, position, total int, now time.Time) float64 {
	content := strings.ToLower(msg.Content)

	score := 0.0
	for _, term := range terms {
		if strings.Contains(content, term) {
			score += termMatchScore
		}
	}

	// Linear recency: the most recent message gets the full weight.
	if total > 1 {
		score += recencyWeight * float64(position) / float64(total-1)
	} else {
		score += recencyWeight
	}

	score += roleBonus[msg.Role]

	if msg.HasToolActivity() {
		score += toolUsageBonus
	}

	ageDays := now.Sub(msg.CreatedAt).Hours() / 24
	if ageDays > 0 {
		score *= math.Exp(-ageDays * ageDecayPerDay)
	}
	return score
}

func domainMatches(entry *models.DomainKnowledge, lowerQuery string) bool {
	if strings.Contains(lowerQuery, strings.ToLower(entry.Domain)) {
		return true
	}
	for key := range entry.Concepts {
		if strings.Contains(lowerQuery, strings.ToLower(key)) {
			return true
		}
	}
	return false
}

// queryTerms splits a query into lowercase terms worth matching on.
func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if len(f) >= minTermLength && !stopwords[f] {
			terms = append(terms, f)
		}
	}
	return terms
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "what": true, "how": true, "are": true, "was": true,
	"you": true, "can": true, "not": true, "but": true, "its": true,
	"about": true, "from": true, "have": true, "will": true,
}

// expertiseSignals map technical vocabulary in user messages onto
// expertise tags accumulated on the profile. Terms match by prefix so
// "deploys" and "deployment" both count.
var expertiseSignals = []struct{ term, tag string }{
	{"sql", "databases"},
	{"database", "databases"},
	{"api", "apis"},
	{"endpoint", "apis"},
	{"docker", "deployment"},
	{"kubernetes", "deployment"},
	{"deploy", "deployment"},
	{"test", "testing"},
	{"debug", "debugging"},
}

func inferExpertise(content string) []string {
	var tags []string
	for _, field := range strings.Fields(strings.ToLower(content)) {
		field = strings.Trim(field, ".,!?;:\"'()")
		for _, sig := range expertiseSignals {
			if strings.HasPrefix(field, sig.term) && !contains(tags, sig.tag) {
				tags = append(tags, sig.tag)
			}
		}
	}
	return tags
}

// extractTopic derives a coarse topic label from a user utterance: the
// first few significant terms, joined.
func extractTopic(content string) string {
	terms := queryTerms(content)
	if len(terms) == 0 {
		return ""
	}
	if len(terms) > 3 {
		terms = terms[:3]
	}
	return strings.Join(terms, " ")
}

// classifyQueryPattern tags the rough intent of a user message.
func classifyQueryPattern(content string) string {
	lower := strings.ToLower(content)
	switch {
	case strings.HasPrefix(lower, "how"):
		return "how_to"
	case strings.HasPrefix(lower, "why"):
		return "explanation"
	case strings.Contains(lower, "error") || strings.Contains(lower, "fail") || strings.Contains(lower, "broken"):
		return "troubleshooting"
	case strings.Contains(lower, " vs ") || strings.Contains(lower, "compare") || strings.Contains(lower, "difference"):
		return "comparison"
	case strings.Contains(lower, "create") || strings.Contains(lower, "build") || strings.Contains(lower, "make"):
		return "creation"
	default:
		return ""
	}
}
