package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefinitionCache is a short-TTL read-through cache for rule sets, workflow
// and chatbot definitions. Writers invalidate on every mutation so a stale
// window only exists for external writers that bypass the service layer.
type DefinitionCache struct {
	c *gocache.Cache
}

func New(ttl time.Duration) *DefinitionCache {
	return &DefinitionCache{
		c: gocache.New(ttl, 2*ttl),
	}
}

func (d *DefinitionCache) Get(key string) (any, bool) {
	return d.c.Get(key)
}

func (d *DefinitionCache) Set(key string, value any) {
	d.c.SetDefault(key, value)
}

func (d *DefinitionCache) Invalidate(key string) {
	d.c.Delete(key)
}

func (d *DefinitionCache) Flush() {
	d.c.Flush()
}
