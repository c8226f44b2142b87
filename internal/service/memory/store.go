package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	memorymodel "github.com/zhouzirui/z-recall/backend/internal/model/memory"
)

// ProfileKey is the key the user profile is stored under.
const ProfileKey = "user_memory"

// ErrEmptyUserID is returned when a profile is addressed without a user.
var ErrEmptyUserID = errors.New("user id is required")

// KV is a namespaced key-value store. Values are opaque JSON documents.
type KV interface {
	Get(ctx context.Context, namespace []string, key string) ([]byte, bool, error)
	Put(ctx context.Context, namespace []string, key string, value []byte) error
	Close() error
}

// ProfileNamespace returns the namespace holding a user's profile.
func ProfileNamespace(userID string) []string {
	return []string{"memory", userID}
}

// ProfileStore reads and writes user profiles on top of a KV.
type ProfileStore struct {
	kv KV
}

// NewProfileStore wraps kv.
func NewProfileStore(kv KV) *ProfileStore {
	return &ProfileStore{kv: kv}
}

// Get returns the stored profile, or nil when the user has none.
func (s *ProfileStore) Get(ctx context.Context, userID string) (*memorymodel.UserProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}

	raw, ok, err := s.kv.Get(ctx, ProfileNamespace(userID), ProfileKey)
	if err != nil {
		return nil, fmt.Errorf("load profile for %s: %w", userID, err)
	}
	if !ok {
		return nil, nil
	}

	var profile memorymodel.UserProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("decode profile for %s: %w", userID, err)
	}
	return &profile, nil
}

// Put replaces the user's profile.
func (s *ProfileStore) Put(ctx context.Context, userID string, profile memorymodel.UserProfile) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}

	profile.Normalize()
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile for %s: %w", userID, err)
	}
	if err := s.kv.Put(ctx, ProfileNamespace(userID), ProfileKey, raw); err != nil {
		return fmt.Errorf("save profile for %s: %w", userID, err)
	}
	return nil
}

// Close releases the underlying store.
func (s *ProfileStore) Close() error {
	return s.kv.Close()
}

// compositeKey flattens namespace and key with a separator that cannot
// appear in user ids sent over HTTP.
func compositeKey(namespace []string, key string) string {
	parts := make([]string, 0, len(namespace)+1)
	parts = append(parts, namespace...)
	parts = append(parts, key)
	return strings.Join(parts, "\x1f")
}
