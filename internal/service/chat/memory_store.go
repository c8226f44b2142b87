package chat

import (
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/z-recall/backend/internal/model/chat"
)

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.CachedMessage
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.CachedMessage),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; !ok {
		s.sessions[session.ID] = session
		s.messages[session.ID] = make([]chat.CachedMessage, 0, 16)
	}
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (s *MemoryStore) TouchSession(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	session.LastUpdated = at
	s.sessions[sessionID] = session
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, message chat.CachedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[message.SessionID]; !ok {
		return ErrSessionNotFound
	}
	s.messages[message.SessionID] = append(s.messages[message.SessionID], message)
	return nil
}

func (s *MemoryStore) FirstAnswered(_ context.Context, sessionID, query string) (chat.CachedMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages[sessionID] {
		if msg.UserQuery == query && msg.Answered() {
			return msg, true, nil
		}
	}
	return chat.CachedMessage{}, false, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]chat.CachedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.CachedMessage, len(messages))
	copy(copied, messages)
	return copied, nil
}

func (s *MemoryStore) Close() error { return nil }
