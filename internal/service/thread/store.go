package thread

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-recall/backend/internal/model/chat"
)

// ErrThreadIDRequired is returned when a thread is addressed without an id.
var ErrThreadIDRequired = errors.New("thread id is required")

// Store persists the ordered message list of each thread. Loading an
// unknown thread yields an empty list.
type Store interface {
	Load(ctx context.Context, threadID string) ([]chat.Message, error)
	Append(ctx context.Context, threadID string, messages ...chat.Message) error
	Close() error
}

// InMemoryStore keeps threads in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]chat.Message
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{threads: make(map[string][]chat.Message)}
}

func (s *InMemoryStore) Load(_ context.Context, threadID string) ([]chat.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, ErrThreadIDRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.threads[threadID]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

func (s *InMemoryStore) Append(_ context.Context, threadID string, messages ...chat.Message) error {
	if strings.TrimSpace(threadID) == "" {
		return ErrThreadIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range messages {
		s.threads[threadID] = append(s.threads[threadID], prepare(threadID, msg))
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func prepare(threadID string, msg chat.Message) chat.Message {
	msg.ThreadID = threadID
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return msg
}
