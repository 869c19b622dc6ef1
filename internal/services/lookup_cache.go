package services

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/logger"
	"github.com/huangang/taskhub/pkg/response"
	"gorm.io/gorm"
)

// SharedLookup is a second cache tier shared between replicas.
type SharedLookup interface {
	Get(ctx context.Context, key string) (uint, bool)
	Set(ctx context.Context, key string, id uint)
	Purge(ctx context.Context) error
}

// LookupCache resolves permission and role template names to ids. Entries expire
// after the configured TTL and Clear drops everything, including the shared tier.
type LookupCache struct {
	entries *lru.LRU[string, uint]
	shared  SharedLookup
}

// NewLookupCache creates an in-process cache holding at most size entries for ttl.
func NewLookupCache(size int, ttl time.Duration) *LookupCache {
	if size <= 0 {
		size = 256
	}
	return &LookupCache{entries: lru.NewLRU[string, uint](size, nil, ttl)}
}

// WithShared attaches a shared tier consulted on local misses.
func (c *LookupCache) WithShared(shared SharedLookup) *LookupCache {
	c.shared = shared
	return c
}

// PermissionID returns the id of a live (not soft deleted) permission.
func (c *LookupCache) PermissionID(ctx context.Context, db *gorm.DB, name string) (uint, error) {
	return c.resolve(ctx, "perm:"+name, func() (uint, error) {
		var perm models.Permission
		err := db.WithContext(ctx).Select("id").Where("name = ?", name).First(&perm).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, response.NotFoundf("permission %q not found", name)
		}
		return perm.ID, err
	})
}

func (c *LookupCache) DefaultRoleID(ctx context.Context, db *gorm.DB, name string) (uint, error) {
	return c.resolve(ctx, "role:"+name, func() (uint, error) {
		var role models.DefaultRole
		err := db.WithContext(ctx).Select("id").Where("name = ?", name).First(&role).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, response.NotFoundf("default role %q not found", name)
		}
		return role.ID, err
	})
}

func (c *LookupCache) Clear() {
	c.entries.Purge()
	if c.shared != nil {
		if err := c.shared.Purge(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("[LookupCache] shared purge failed")
		}
	}
}

func (c *LookupCache) Len() int {
	return c.entries.Len()
}

func (c *LookupCache) resolve(ctx context.Context, key string, load func() (uint, error)) (uint, error) {
	if id, ok := c.entries.Get(key); ok {
		return id, nil
	}
	if c.shared != nil {
		if id, ok := c.shared.Get(ctx, key); ok {
			c.entries.Add(key, id)
			return id, nil
		}
	}

	id, err := load()
	if err != nil {
		return 0, err
	}
	c.entries.Add(key, id)
	if c.shared != nil {
		c.shared.Set(ctx, key, id)
	}
	return id, nil
}
