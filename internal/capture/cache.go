// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package capture

// lastSeenCache is a bounded string cache keyed by a stable logical window
// identity (process name + window class). When full, the oldest entry is
// evicted; entries for windows that disappeared are removed explicitly by
// the owning tracker. The cache belongs to exactly one tracker and is
// never shared.
type lastSeenCache struct {
	max    int
	values map[string]string
	order  []string
}

func newLastSeenCache(max int) *lastSeenCache {
	if max <= 0 {
		max = 256
	}
	return &lastSeenCache{
		max:    max,
		values: make(map[string]string, max),
	}
}

// Get returns the cached value for key.
func (c *lastSeenCache) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Put stores value under key, evicting the oldest entry when full.
func (c *lastSeenCache) Put(key, value string) {
	if _, exists := c.values[key]; !exists {
		if len(c.values) >= c.max {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.values, oldest)
		}
		c.order = append(c.order, key)
	}
	c.values[key] = value
}

// Evict removes key from the cache.
func (c *lastSeenCache) Evict(key string) {
	if _, exists := c.values[key]; !exists {
		return
	}
	delete(c.values, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of cached entries.
func (c *lastSeenCache) Len() int {
	return len(c.values)
}
