// Package cache provides the process-local context cache. Entries are a
// derived view of the persistent store: losing one or serving one inside its
// TTL is never a correctness problem, only staleness beyond the TTL would be.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/admitpath/advisory-engine/internal/model"
	"github.com/admitpath/advisory-engine/pkg/metrics"
)

const (
	bucketContext = "context"
	bucketProfile = "profile"
)

// ContextCache holds per-student assembled contexts and the lighter profile
// snapshots used by greeting generation, each with its own TTL. Expiry is
// checked lazily on read.
type ContextCache struct {
	contexts *gocache.Cache
	profiles *gocache.Cache
}

// New creates a cache with the given TTLs for the two buckets.
func New(contextTTL, profileTTL time.Duration) *ContextCache {
	return &ContextCache{
		contexts: gocache.New(contextTTL, contextTTL/2),
		profiles: gocache.New(profileTTL, profileTTL/2),
	}
}

// GetContext returns the cached assembled context for a student, or nil when
// absent or expired.
func (c *ContextCache) GetContext(studentID string) *model.AssembledContext {
	v, ok := c.contexts.Get(studentID)
	if !ok {
		metrics.RecordCacheMiss(bucketContext)
		return nil
	}
	metrics.RecordCacheHit(bucketContext)
	return v.(*model.AssembledContext)
}

// SetContext stores an assembled context with the default context TTL.
func (c *ContextCache) SetContext(studentID string, ac *model.AssembledContext) {
	c.contexts.SetDefault(studentID, ac)
}

// GetProfile returns the cached profile snapshot for a student, or nil.
func (c *ContextCache) GetProfile(studentID string) *model.ProfileSnapshot {
	v, ok := c.profiles.Get(studentID)
	if !ok {
		metrics.RecordCacheMiss(bucketProfile)
		return nil
	}
	metrics.RecordCacheHit(bucketProfile)
	return v.(*model.ProfileSnapshot)
}

// SetProfile stores a profile snapshot with the default profile TTL.
func (c *ContextCache) SetProfile(studentID string, p *model.ProfileSnapshot) {
	c.profiles.SetDefault(studentID, p)
}

// Invalidate drops both buckets for a student. Must be called by every write
// path that mutates the profile data feeding assembly.
func (c *ContextCache) Invalidate(studentID string) {
	c.contexts.Delete(studentID)
	c.profiles.Delete(studentID)
}
