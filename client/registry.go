package client

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/comfygrid/comfygrid/graphapi"
)

// RegistryCache caches parsed node registries per runtime origin.  Concurrent
// cache misses for the same origin collapse into a single fetch; entries
// expire after the configured TTL so runtimes that install new node packs are
// picked up without a restart.
type RegistryCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]registryEntry
	group   singleflight.Group
}

type registryEntry struct {
	registry *graphapi.NodeRegistry
	fetched  time.Time
}

// NewRegistryCache creates a cache whose entries expire after ttl.  A zero
// ttl means entries never expire.
func NewRegistryCache(ttl time.Duration) *RegistryCache {
	return &RegistryCache{
		ttl:     ttl,
		entries: make(map[string]registryEntry),
	}
}

// Get returns the node registry for the client's runtime, fetching it when
// absent or expired.
func (rc *RegistryCache) Get(ctx context.Context, c *RuntimeClient) (*graphapi.NodeRegistry, error) {
	key := c.BaseURL()

	rc.mu.Lock()
	entry, ok := rc.entries[key]
	rc.mu.Unlock()
	if ok && !rc.expired(entry) {
		return entry.registry, nil
	}

	v, err, _ := rc.group.Do(key, func() (interface{}, error) {
		// a concurrent caller may have refreshed the entry while this
		// call waited on the group
		rc.mu.Lock()
		entry, ok := rc.entries[key]
		rc.mu.Unlock()
		if ok && !rc.expired(entry) {
			return entry.registry, nil
		}

		reg, err := c.FetchObjectInfo(ctx)
		if err != nil {
			return nil, err
		}

		rc.mu.Lock()
		rc.entries[key] = registryEntry{registry: reg, fetched: time.Now()}
		rc.mu.Unlock()
		return reg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*graphapi.NodeRegistry), nil
}

// Invalidate drops the cached registry for one runtime origin.
func (rc *RegistryCache) Invalidate(baseURL string) {
	rc.mu.Lock()
	delete(rc.entries, trimTrailingSlash(baseURL))
	rc.mu.Unlock()
}

func (rc *RegistryCache) expired(e registryEntry) bool {
	return rc.ttl > 0 && time.Since(e.fetched) > rc.ttl
}
