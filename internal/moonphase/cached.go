package moonphase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/awaistahir/moonhunter/internal/engine"
)

// Cache stores illumination readings by unix timestamp. A reading for a
// given instant never changes, so entries do not expire.
type Cache interface {
	GetIllumination(ctx context.Context, unix int64) (engine.Phase, bool, error)
	PutIllumination(ctx context.Context, unix int64, phase engine.Phase) error
}

// CachedProvider serves repeated timestamps from Cache and fills it on miss.
// Cache failures are logged and never fail the lookup.
type CachedProvider struct {
	Inner  Provider
	Cache  Cache
	Logger *slog.Logger
}

func (c *CachedProvider) Illumination(ctx context.Context, unix int64) (engine.Phase, error) {
	if c.Inner == nil {
		return engine.Phase{}, fmt.Errorf("cached provider inner provider is nil")
	}
	if err := ctx.Err(); err != nil {
		return engine.Phase{}, err
	}

	if c.Cache != nil {
		phase, ok, err := c.Cache.GetIllumination(ctx, unix)
		if err != nil {
			c.logger().Warn("illumination cache read failed", "timestamp", unix, "error", err)
		} else if ok {
			return phase, nil
		}
	}

	phase, err := c.Inner.Illumination(ctx, unix)
	if err != nil {
		return engine.Phase{}, err
	}

	if c.Cache != nil {
		if err := c.Cache.PutIllumination(ctx, unix, phase); err != nil {
			c.logger().Warn("illumination cache write failed", "timestamp", unix, "error", err)
		}
	}
	return phase, nil
}

func (c *CachedProvider) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// MemoryCache is an in-process Cache
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[int64]engine.Phase
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[int64]engine.Phase)}
}

func (m *MemoryCache) GetIllumination(_ context.Context, unix int64) (engine.Phase, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.entries[unix]
	return p, ok, nil
}

func (m *MemoryCache) PutIllumination(_ context.Context, unix int64, phase engine.Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[unix] = phase
	return nil
}

// Len returns the number of cached readings
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
