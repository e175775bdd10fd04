// Package router implements the Route Cache and Selector (spec §4.3): for
// a given router and model name, find the compiled Rule whose match
// patterns apply, then hand its channels and strategy to the load
// balancer. Lookups are cached per router, keyed by model name, since the
// same handful of model names dominate traffic on any one deployment.
package router

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cregis/apex/internal/config"
)

// defaultCacheSize bounds each router's route cache (spec §3, RuleCache
// default capacity).
const defaultCacheSize = 10000

// cacheEntry is what a model name resolves to within one router: the rule
// that matched and its target channels, flattened so a cache hit needs no
// further pattern evaluation.
type cacheEntry struct {
	rule     *config.Rule
	strategy string
}

// routeCache is the per-router LRU keyed by model name. Config reloads
// replace the entire Config snapshot, so routeCache is invalidated
// wholesale by discarding it and building a fresh one rather than trying
// to evict individual entries (spec §4.3: "a reload invalidates every
// router's cache in one step").
type routeCache struct {
	cache *lru.Cache[string, cacheEntry]
}

func newRouteCache() *routeCache {
	c, _ := lru.New[string, cacheEntry](defaultCacheSize) // error only on non-positive size
	return &routeCache{cache: c}
}

func (rc *routeCache) get(model string) (cacheEntry, bool) {
	return rc.cache.Get(model)
}

func (rc *routeCache) put(model string, entry cacheEntry) {
	rc.cache.Add(model, entry)
}
