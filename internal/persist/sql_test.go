package persist

import (
	"context"
	"path/filepath"
	"testing"

	"chainflow/internal/config"
	"chainflow/internal/models"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: filepath.Join(t.TempDir(), "snapshots.db")},
		},
	}
	s, err := OpenSQL("sqlite3", cfg)
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess := &models.Session{
		ID: "s1",
		Messages: []*models.Message{
			{ID: "m1", Role: models.RoleUser, Content: "hello"},
		},
		Knowledge: map[string]*models.DomainKnowledge{},
	}
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	// Save again to exercise the upsert path.
	sess.Messages = append(sess.Messages, &models.Message{ID: "m2", Role: models.RoleAssistant, Content: "hi"})
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession upsert: %v", err)
	}

	loaded, err := s.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 session, got %d", len(loaded))
	}
	if len(loaded[0].Messages) != 2 || loaded[0].Messages[1].Content != "hi" {
		t.Fatalf("snapshot not updated: %#v", loaded[0].Messages)
	}

	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	loaded, err = s.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("LoadSessions after delete: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty store after delete, got %d", len(loaded))
	}
}

func TestOpenSQLUnknownDriver(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"oracle": {}}}
	if _, err := OpenSQL("oracle", cfg); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
