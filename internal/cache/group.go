package cache

import (
	"strings"
	"time"

	"github.com/shiftcal/ota-server/internal/model"
)

// ResolverCacheGroup holds the in-process caches that front the update
// tables. A cached nil update records a miss so repeated checks from
// fully up-to-date clients stay off the database.
type ResolverCacheGroup struct {
	// key: platform:runtimeVersion:channel
	LatestUpdateCache *Cache[string, *model.Update]
	// key: updateId
	UpdateByIDCache *Cache[string, *model.Update]
}

func (g *ResolverCacheGroup) GetCacheKey(elems ...string) string {
	return strings.Join(elems, ":")
}

func (g *ResolverCacheGroup) EvictAll() {
	g.LatestUpdateCache.EvictAll()
	g.UpdateByIDCache.EvictAll()
}

func NewResolverCacheGroup() *ResolverCacheGroup {
	return &ResolverCacheGroup{
		LatestUpdateCache: NewCache[string, *model.Update](time.Minute),
		UpdateByIDCache:   NewCache[string, *model.Update](12 * time.Hour),
	}
}
