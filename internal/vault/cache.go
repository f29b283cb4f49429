package vault

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"video-vault/internal/platform/metrics"
)

// RecordCache is a per-instance expirable LRU of video metadata in front of
// the store on the streaming hot path. Entries expire on their own after the
// TTL; deletes and view-count writes keep it in step with the store for the
// instance that performed them. Other instances converge via the TTL.
type RecordCache struct {
	cache   *expirable.LRU[string, *VideoRecord]
	metrics *metrics.Metrics
}

// NewRecordCache returns a cache holding at most maxSize records, each for at
// most ttl after being added. Metrics may be nil.
func NewRecordCache(maxSize int, ttl time.Duration, m *metrics.Metrics) *RecordCache {
	return &RecordCache{
		cache:   expirable.NewLRU[string, *VideoRecord](maxSize, nil, ttl),
		metrics: m,
	}
}

// Get returns the cached record for id, if present and unexpired.
func (c *RecordCache) Get(id string) (*VideoRecord, bool) {
	record, ok := c.cache.Get(id)
	if ok {
		c.metrics.IncCacheHits()
		return record, true
	}
	c.metrics.IncCacheMisses()
	return nil, false
}

// Set adds or refreshes the cached record.
func (c *RecordCache) Set(id string, record *VideoRecord) {
	c.cache.Add(id, record)
}

// Delete removes the cached record, if any.
func (c *RecordCache) Delete(id string) {
	c.cache.Remove(id)
}
