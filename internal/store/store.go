// Package store implements the per-session context store: conversation
// history, user profile, session state and domain knowledge, with scored
// retrieval and overflow compression.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"chainflow/internal/models"

	"github.com/google/uuid"
)

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrParentNotFound  = errors.New("parent session not found")
)

// Persister is an optional external key-value surface for the session map:
// loaded on startup, written best-effort after each mutation.
type Persister interface {
	LoadSessions(ctx context.Context) ([]*models.Session, error)
	SaveSession(ctx context.Context, session *models.Session) error
	DeleteSession(ctx context.Context, id string) error
}

// Config holds context store tunables.
type Config struct {
	// ContextWindowSize bounds retained history; overflow is compressed.
	ContextWindowSize int

	// DefaultMaxMessages caps retrieval when the caller passes <= 0.
	DefaultMaxMessages int
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		ContextWindowSize:  10,
		DefaultMaxMessages: 5,
	}
}

// Store owns all sessions for the process. All mutations for a given
// session id are applied under one lock, so message appends, profile and
// state updates, and compression are atomic with respect to each other.
type Store struct {
	mu        sync.Mutex
	cfg       Config
	sessions  map[string]*models.Session
	persister Persister
}

// New creates a store. A nil persister keeps the store memory-only.
func New(cfg Config, persister Persister) *Store {
	if cfg.ContextWindowSize <= 0 {
		cfg.ContextWindowSize = DefaultConfig().ContextWindowSize
	}
	if cfg.DefaultMaxMessages <= 0 {
		cfg.DefaultMaxMessages = DefaultConfig().DefaultMaxMessages
	}
	s := &Store{
		cfg:       cfg,
		sessions:  make(map[string]*models.Session),
		persister: persister,
	}
	if persister != nil {
		loaded, err := persister.LoadSessions(context.Background())
		if err != nil {
			log.Printf("store: restore sessions: %v", err)
		}
		for _, sess := range loaded {
			if sess != nil && sess.ID != "" {
				s.sessions[sess.ID] = sess
			}
		}
	}
	return s
}

// CreateSession initializes a session. Creating an existing id is a no-op
// returning the existing session.
func (s *Store) CreateSession(id string, profile models.UserProfile) *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	if profile.Preferences == nil {
		profile.Preferences = make(map[string]string)
	}
	if profile.Style == "" {
		profile.Style = models.StyleConversational
	}
	sess := &models.Session{
		ID:       id,
		Messages: make([]*models.Message, 0),
		Profile:  profile,
		State: models.SessionState{
			ContextWindowSize: s.cfg.ContextWindowSize,
		},
		Knowledge:   make(map[string]*models.DomainKnowledge),
		LastUpdated: timeNow(),
	}
	s.sessions[id] = sess
	s.persist(sess)
	return sess
}

// AddMessage appends a message, updates derived session state and triggers
// compression when history exceeds the context window.
func (s *Store) AddMessage(sessionID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("add message to %s: %w", sessionID, ErrSessionNotFound)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = sessionID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = timeNow()
	}
	sess.Messages = append(sess.Messages, msg)
	sess.LastUpdated = timeNow()

	if msg.Role == models.RoleUser {
		s.updateFromUserMessage(sess, msg)
	}
	if tools := toolNames(msg); len(tools) > 0 {
		s.trackActiveTools(sess, tools)
	}
	if len(sess.Messages) > sess.State.ContextWindowSize {
		s.compress(sess)
	}
	s.persist(sess)
	return nil
}

// GetSession returns a snapshot of the session (messages slice copied).
func (s *Store) GetSession(id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("get session %s: %w", id, ErrSessionNotFound)
	}
	snap := *sess
	snap.Messages = append([]*models.Message(nil), sess.Messages...)
	return &snap, nil
}

// UpdateDomainKnowledge merges concepts into the named domain entry,
// creating it when absent. Existing keys are overwritten, never dropped.
func (s *Store) UpdateDomainKnowledge(sessionID, domain string, concepts map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("update knowledge on %s: %w", sessionID, ErrSessionNotFound)
	}
	entry, ok := sess.Knowledge[domain]
	if !ok {
		entry = &models.DomainKnowledge{
			Domain:   domain,
			Concepts: make(map[string]string),
		}
		sess.Knowledge[domain] = entry
	}
	for k, v := range concepts {
		entry.Concepts[k] = v
	}
	entry.LastAccessed = timeNow()
	sess.LastUpdated = timeNow()
	s.persist(sess)
	return nil
}

// AddRelationship records a typed edge between two concepts of a domain.
func (s *Store) AddRelationship(sessionID, domain string, rel models.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("add relationship on %s: %w", sessionID, ErrSessionNotFound)
	}
	entry, ok := sess.Knowledge[domain]
	if !ok {
		entry = &models.DomainKnowledge{
			Domain:   domain,
			Concepts: make(map[string]string),
		}
		sess.Knowledge[domain] = entry
	}
	entry.Relationships = append(entry.Relationships, rel)
	entry.LastAccessed = timeNow()
	s.persist(sess)
	return nil
}

// CreateChainContext spawns a child session for a chain: the parent's
// profile and knowledge are fully copied, history starts empty, and the
// chain depth counter is incremented to bound recursive chaining.
func (s *Store) CreateChainContext(parentID, chainID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.sessions[parentID]
	if !ok {
		return nil, fmt.Errorf("chain context for %s: %w", parentID, ErrParentNotFound)
	}
	knowledge := make(map[string]*models.DomainKnowledge, len(parent.Knowledge))
	for domain, entry := range parent.Knowledge {
		knowledge[domain] = entry.Clone()
	}
	child := &models.Session{
		ID:       chainID,
		Messages: make([]*models.Message, 0),
		Profile:  parent.Profile.Clone(),
		State: models.SessionState{
			ContextWindowSize: parent.State.ContextWindowSize,
			ChainDepth:        parent.State.ChainDepth + 1,
		},
		Knowledge:   knowledge,
		LastUpdated: timeNow(),
	}
	s.sessions[chainID] = child
	s.persist(child)
	return child, nil
}

// Cleanup removes sessions not updated within maxAge. Returns the number
// of sessions removed.
func (s *Store) Cleanup(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := timeNow().Add(-maxAge)
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastUpdated.Before(cutoff) {
			delete(s.sessions, id)
			removed++
			if s.persister != nil {
				if err := s.persister.DeleteSession(context.Background(), id); err != nil {
					log.Printf("store: delete session %s: %v", id, err)
				}
			}
		}
	}
	return removed
}

// SessionCount reports how many sessions are live.
func (s *Store) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// persist writes one session snapshot, best-effort. Called under s.mu.
func (s *Store) persist(sess *models.Session) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveSession(context.Background(), sess); err != nil {
		log.Printf("store: save session %s: %v", sess.ID, err)
	}
}

// updateFromUserMessage refreshes topic, profile patterns and expertise
// hints from a user message. Called under s.mu.
func (s *Store) updateFromUserMessage(sess *models.Session, msg *models.Message) {
	if topic := extractTopic(msg.Content); topic != "" {
		sess.State.CurrentTopic = topic
	}
	if pattern := classifyQueryPattern(msg.Content); pattern != "" {
		sess.Profile.QueryPatterns = appendBounded(sess.Profile.QueryPatterns, pattern, 10)
	}
	for _, tag := range inferExpertise(msg.Content) {
		sess.Profile.Expertise = appendBounded(sess.Profile.Expertise, tag, 10)
	}
}

// trackActiveTools keeps the most recent tool names, FIFO, bounded.
func (s *Store) trackActiveTools(sess *models.Session, tools []string) {
	for _, name := range tools {
		if name == "" || contains(sess.State.ActiveTools, name) {
			continue
		}
		sess.State.ActiveTools = append(sess.State.ActiveTools, name)
		if len(sess.State.ActiveTools) > models.MaxActiveTools {
			sess.State.ActiveTools = sess.State.ActiveTools[1:]
		}
	}
}

func toolNames(msg *models.Message) []string {
	if len(msg.Metadata.ToolsUsed) > 0 {
		return msg.Metadata.ToolsUsed
	}
	return msg.Metadata.ToolCalls
}

func appendBounded(list []string, v string, max int) []string {
	if contains(list, v) {
		return list
	}
	list = append(list, v)
	if len(list) > max {
		list = list[1:]
	}
	return list
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
