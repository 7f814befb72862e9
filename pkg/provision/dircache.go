package provision

import (
	"github.com/dgraph-io/ristretto/v2"
)

// DirCache remembers remote directories known to exist. A miss only costs an
// extra stat, so evictions and dropped sets are harmless.
type DirCache struct {
	cache *ristretto.Cache[string, struct{}]
}

func NewDirCache(maxEntries int64) (*DirCache, error) {
	if maxEntries <= 0 {
		maxEntries = 100_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &DirCache{cache: cache}, nil
}

func (d *DirCache) Has(key string) bool {
	if d == nil {
		return false
	}
	_, ok := d.cache.Get(key)
	return ok
}

func (d *DirCache) Add(key string) {
	if d == nil {
		return
	}
	d.cache.Set(key, struct{}{}, 1)
	d.cache.Wait()
}

func (d *DirCache) Del(key string) {
	if d == nil {
		return
	}
	d.cache.Del(key)
}

func (d *DirCache) Close() {
	if d == nil {
		return
	}
	d.cache.Close()
}
