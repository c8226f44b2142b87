package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-recall/backend/internal/model/chat"
)

var (
	ErrUserRequired     = errors.New("user id is required")
	ErrSessionRequired  = errors.New("session id is required")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionForbidden = errors.New("session belongs to another user")
)

// Store persists sessions and their cached (query, response) pairs.
type Store interface {
	CreateSession(ctx context.Context, session chat.Session) error
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	AppendMessage(ctx context.Context, message chat.CachedMessage) error
	// FirstAnswered returns the earliest pair of the session whose query
	// matches exactly and whose response is non-empty.
	FirstAnswered(ctx context.Context, sessionID, query string) (chat.CachedMessage, bool, error)
	ListMessages(ctx context.Context, sessionID string) ([]chat.CachedMessage, error)
	Close() error
}

// Service manages chat sessions and the per-session response cache.
type Service struct {
	store Store
}

// NewService wraps a store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// CreateSession provisions a new session owned by userID.
func (s *Service) CreateSession(ctx context.Context, userID, name string) (chat.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return chat.Session{}, ErrUserRequired
	}
	if strings.TrimSpace(name) == "" {
		name = chat.DefaultSessionName
	}

	now := time.Now().UTC()
	session := chat.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// Lookup returns the cached response for query in the session, if any.
// Matching is exact on the query string.
func (s *Service) Lookup(ctx context.Context, sessionID, query string) (string, bool, error) {
	if sessionID == "" {
		return "", false, ErrSessionRequired
	}

	msg, ok, err := s.store.FirstAnswered(ctx, sessionID, query)
	if err != nil {
		return "", false, fmt.Errorf("cache lookup: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return msg.LLMResp, true, nil
}

// Record stores a (query, response) pair, creating the session on first use.
// Pairs with an empty response are stored but never served by Lookup.
func (s *Service) Record(ctx context.Context, sessionID, userID, query, response string) error {
	if sessionID == "" {
		return ErrSessionRequired
	}
	if strings.TrimSpace(userID) == "" {
		return ErrUserRequired
	}

	if err := s.ensureSession(ctx, sessionID, userID); err != nil {
		return err
	}

	now := time.Now().UTC()
	message := chat.CachedMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		UserQuery: query,
		LLMResp:   response,
		CreatedAt: now,
	}
	if err := s.store.AppendMessage(ctx, message); err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	if err := s.store.TouchSession(ctx, sessionID, now); err != nil {
		log.Printf("[cache] warning: failed to update session %s timestamp: %v", sessionID, err)
	}
	return nil
}

// LoadTranscript returns stored pairs for the provided session.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.CachedMessage, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, sessionID)
}

// Close releases the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}

func (s *Service) ensureSession(ctx context.Context, sessionID, userID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		if session.UserID != userID {
			return ErrSessionForbidden
		}
		return nil
	case errors.Is(err, ErrSessionNotFound):
		now := time.Now().UTC()
		log.Printf("[cache] creating session %s for user %s", sessionID, userID)
		return s.store.CreateSession(ctx, chat.Session{
			ID:          sessionID,
			UserID:      userID,
			Name:        chat.DefaultSessionName,
			CreatedAt:   now,
			LastUpdated: now,
		})
	default:
		return fmt.Errorf("load session: %w", err)
	}
}
