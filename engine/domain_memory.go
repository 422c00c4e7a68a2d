package engine

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DomainMemory remembers which engine last succeeded for each domain.
// Entries expire after the configured TTL; go-cache's janitor prunes them.
type DomainMemory struct {
	store *gocache.Cache
}

// NewDomainMemory creates a DomainMemory with the given TTL.
func NewDomainMemory(ttl time.Duration) *DomainMemory {
	return &DomainMemory{store: gocache.New(ttl, time.Hour)}
}

// Get returns the remembered engine name for a domain, or "" if not found / expired.
func (dm *DomainMemory) Get(domain string) string {
	if dm == nil {
		return ""
	}
	v, ok := dm.store.Get(domain)
	if !ok {
		return ""
	}
	name, _ := v.(string)
	return name
}

// Set records which engine succeeded for a domain.
func (dm *DomainMemory) Set(domain, engineName string) {
	if dm == nil {
		return
	}
	dm.store.SetDefault(domain, engineName)
}

// Delete removes the memory for a domain (e.g. after the remembered engine fails).
func (dm *DomainMemory) Delete(domain string) {
	if dm == nil {
		return
	}
	dm.store.Delete(domain)
}

// Len returns the number of remembered domains, including expired ones
// not yet pruned.
func (dm *DomainMemory) Len() int {
	if dm == nil {
		return 0
	}
	return dm.store.ItemCount()
}
