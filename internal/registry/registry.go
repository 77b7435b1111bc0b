package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Source loads criterion metadata from a backing store.
type Source interface {
	LoadCriteria(ctx context.Context) ([]Criterion, error)
}

// Registry caches criterion metadata loaded from a Source with a TTL.
// Consumers receive a *Registry by reference instead of consulting a
// package-level map, so invalidation is explicit and the cache is visible
// in every signature that depends on it.
type Registry struct {
	source Source
	ttl    time.Duration

	mu       sync.RWMutex
	byID     map[string]Criterion
	ordered  []Criterion
	loadedAt time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a Registry over source. A ttl of zero means entries never
// expire and only Invalidate refreshes them.
func New(source Source, ttl time.Duration) *Registry {
	return &Registry{
		source:  source,
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// All returns every known criterion in source order, loading or refreshing
// the cache as needed.
func (r *Registry) All(ctx context.Context) ([]Criterion, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Criterion, len(r.ordered))
	copy(out, r.ordered)
	return out, nil
}

// Enabled returns the criteria currently enabled for serving.
func (r *Registry) Enabled(ctx context.Context) ([]Criterion, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	var enabled []Criterion
	for _, c := range all {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	return enabled, nil
}

// Get returns one criterion by id.
func (r *Registry) Get(ctx context.Context, id string) (Criterion, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return Criterion{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return Criterion{}, eris.Errorf("registry: unknown criterion %q", id)
	}
	return c, nil
}

// Invalidate drops the cached criteria; the next read reloads from source.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = nil
	r.ordered = nil
	r.loadedAt = time.Time{}
}

func (r *Registry) ensureLoaded(ctx context.Context) error {
	r.mu.RLock()
	fresh := r.byID != nil && (r.ttl <= 0 || r.nowFunc().Sub(r.loadedAt) < r.ttl)
	r.mu.RUnlock()
	if fresh {
		return nil
	}

	criteria, err := r.source.LoadCriteria(ctx)
	if err != nil {
		return eris.Wrap(err, "registry: load criteria")
	}

	byID := make(map[string]Criterion, len(criteria))
	ordered := make([]Criterion, 0, len(criteria))
	for _, c := range criteria {
		if err := c.Validate(); err != nil {
			zap.L().Warn("registry: skipping invalid criterion", zap.String("id", c.ID), zap.Error(err))
			continue
		}
		byID[c.ID] = c
		ordered = append(ordered, c)
	}

	r.mu.Lock()
	r.byID = byID
	r.ordered = ordered
	r.loadedAt = r.nowFunc()
	r.mu.Unlock()

	zap.L().Debug("registry: criteria loaded", zap.Int("count", len(ordered)))
	return nil
}
