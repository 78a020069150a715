// Package cache keeps hot read-mostly workflow data in memory.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/garyjia/doc-approval/internal/application/port"
	"github.com/garyjia/doc-approval/internal/domain/entity"
	"github.com/garyjia/doc-approval/internal/infrastructure/persistence/sqlite"
)

// TemplateCache decorates a port.TemplateRepository with a TTL cache keyed by template id.
// Reads made inside a transaction go straight to the store so uncommitted rows are never cached.
type TemplateCache struct {
	next   port.TemplateRepository
	c      *ttlcache.Cache[int64, *entity.WorkflowTemplate]
	logger *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewTemplateCache wraps next with a cache holding at most size templates for ttl
func NewTemplateCache(next port.TemplateRepository, size int, ttl time.Duration, logger *zap.Logger) *TemplateCache {
	c := ttlcache.New(
		ttlcache.WithCapacity[int64, *entity.WorkflowTemplate](uint64(size)),
		ttlcache.WithTTL[int64, *entity.WorkflowTemplate](ttl),
	)

	c.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[int64, *entity.WorkflowTemplate]) {
		logger.Debug("Template evicted from cache",
			zap.Int64("template_id", item.Key()),
			zap.Int("reason", int(reason)))
	})

	return &TemplateCache{
		next:   next,
		c:      c,
		logger: logger,
	}
}

// Create stores a template; it is cached on first read
func (tc *TemplateCache) Create(ctx context.Context, template *entity.WorkflowTemplate) error {
	return tc.next.Create(ctx, template)
}

// GetByID serves a template from the cache, loading it on a miss
func (tc *TemplateCache) GetByID(ctx context.Context, id int64) (*entity.WorkflowTemplate, error) {
	if sqlite.TxFromContext(ctx) != nil {
		return tc.next.GetByID(ctx, id)
	}

	if item := tc.c.Get(id); item != nil {
		return item.Value(), nil
	}

	template, err := tc.next.GetByID(ctx, id)
	if err != nil || template == nil {
		return template, err
	}

	tc.c.Set(id, template, ttlcache.DefaultTTL)
	return template, nil
}

// List always reads through to the store
func (tc *TemplateCache) List(ctx context.Context, activeOnly bool) ([]*entity.WorkflowTemplate, error) {
	return tc.next.List(ctx, activeOnly)
}

// Update writes through and invalidates the cached copy
func (tc *TemplateCache) Update(ctx context.Context, template *entity.WorkflowTemplate) error {
	defer tc.Invalidate(template.ID)
	return tc.next.Update(ctx, template)
}

// ReplaceSteps writes through and invalidates the cached copy
func (tc *TemplateCache) ReplaceSteps(ctx context.Context, templateID int64, steps []entity.StepDefinition) error {
	defer tc.Invalidate(templateID)
	return tc.next.ReplaceSteps(ctx, templateID, steps)
}

// Delete writes through and invalidates the cached copy
func (tc *TemplateCache) Delete(ctx context.Context, id int64) error {
	defer tc.Invalidate(id)
	return tc.next.Delete(ctx, id)
}

// Invalidate drops one template from the cache
func (tc *TemplateCache) Invalidate(id int64) {
	tc.c.Delete(id)
}

// Len returns the number of cached templates
func (tc *TemplateCache) Len() int {
	return tc.c.Len()
}

// Name implements worker.Worker
func (tc *TemplateCache) Name() string {
	return "template-cache-janitor"
}

// Start runs the expiry janitor until Stop is called
func (tc *TemplateCache) Start(ctx context.Context) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.running {
		return nil
	}

	tc.running = true
	go tc.c.Start()
	tc.logger.Info("Template cache janitor started")
	return nil
}

// Stop halts the expiry janitor. Stopping a janitor that never started is a no-op.
func (tc *TemplateCache) Stop() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if !tc.running {
		return nil
	}

	// blocks until the janitor goroutine receives the stop signal
	tc.c.Stop()
	tc.running = false
	tc.logger.Info("Template cache janitor stopped")
	return nil
}

// Verify interface compliance
var _ port.TemplateRepository = (*TemplateCache)(nil)
