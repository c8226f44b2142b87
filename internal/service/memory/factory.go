package memory

import (
	"context"
	"fmt"

	"github.com/zhouzirui/z-recall/backend/internal/config"
)

// NewKV creates the profile store backend selected by configuration.
func NewKV(ctx context.Context, cfg config.StorageConfig) (KV, error) {
	switch cfg.MemoryBackend {
	case "", config.MemoryBackendInMemory:
		return NewInMemoryKV(), nil
	case config.MemoryBackendBadger:
		return NewBadgerKV(cfg.BadgerPath)
	case config.MemoryBackendPostgres:
		return NewPostgresKV(ctx, cfg.DatabaseURL)
	default:
		return nil, &config.ConfigurationError{Key: "MEMORY_BACKEND", Reason: fmt.Sprintf("unsupported backend %q", cfg.MemoryBackend)}
	}
}
