package store

import (
	"testing"
	"time"

	"chainflow/internal/models"
)

func TestScoreMessageAgeDecay(t *testing.T) {
	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	terms := []string{"kubernetes"}

	fresh := &models.Message{Role: models.RoleUser, Content: "kubernetes", CreatedAt: now}
	stale := &models.Message{Role: models.RoleUser, Content: "kubernetes", CreatedAt: now.AddDate(0, 0, -30)}

	freshScore := scoreMessage(fresh, terms, 0, 1, now)
	staleScore := scoreMessage(stale, terms, 0, 1, now)
	if staleScore >= freshScore {
		t.Fatalf("expected decay: fresh=%v stale=%v", freshScore, staleScore)
	}
}

func TestScoreMessageRoleOrdering(t *testing.T) {
	now := time.Now()
	mk := func(role models.Role) *models.Message {
		return &models.Message{Role: role, Content: "same content", CreatedAt: now}
	}
	user := scoreMessage(mk(models.RoleUser), nil, 0, 1, now)
	asst := scoreMessage(mk(models.RoleAssistant), nil, 0, 1, now)
	sys := scoreMessage(mk(models.RoleSystem), nil, 0, 1, now)
	if !(user > asst && asst > sys) {
		t.Fatalf("role bonus ordering wrong: user=%v assistant=%v system=%v", user, asst, sys)
	}
}

func TestQueryTermsFiltersStopwordsAndShortWords(t *testing.T) {
	terms := queryTerms("How do I fix the broken deployment?")
	for _, term := range terms {
		if term == "the" || term == "how" || len(term) < minTermLength {
			t.Fatalf("stopword or short term leaked: %q in %#v", term, terms)
		}
	}
	if !contains(terms, "deployment") {
		t.Fatalf("significant term dropped: %#v", terms)
	}
}

func TestSummariesStack(t *testing.T) {
	s := New(Config{ContextWindowSize: 3}, nil)
	s.CreateSession("s1", models.UserProfile{})

	for i := 0; i < 10; i++ {
		if err := s.AddMessage("s1", userMsg("topic alpha question")); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}
	sess, _ := s.GetSession("s1")
	if len(sess.Messages) != 4 {
		t.Fatalf("expected window+1 messages, got %d", len(sess.Messages))
	}
	summaries := 0
	for _, m := range sess.Messages {
		if m.Compressed {
			summaries++
		}
	}
	// Re-compression folds the prior summary in; only one survives.
	if summaries != 1 {
		t.Fatalf("expected exactly one summary message, got %d", summaries)
	}
	if sess.State.CompressionCount < 2 {
		t.Fatalf("expected stacked compressions, count=%d", sess.State.CompressionCount)
	}
}
