// Package contractcache provides a process-lifetime memoization of whether
// an address is a contract or an EOA, avoiding repeated chain lookups within
// a single indexer run.
package contractcache

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the tri-state result of a cache lookup.
type Status int

const (
	// Unknown means the cache has no entry for the address yet; the caller
	// must resolve it via a chain lookup and record the result.
	Unknown Status = iota
	KnownContract
	KnownEOA
)

// Cache is a process-wide address classification cache. Safe for concurrent
// use: writers are the pipeline, readers may be the query path in principle,
// though in practice only the pipeline consults it today.
type Cache struct {
	mu    sync.RWMutex
	known map[common.Address]bool // true = contract, false = EOA
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{known: make(map[common.Address]bool)}
}

// Status reports what is currently known about addr.
func (c *Cache) Status(addr common.Address) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	isContract, ok := c.known[addr]
	if !ok {
		return Unknown
	}
	if isContract {
		return KnownContract
	}
	return KnownEOA
}

// Mark records addr's classification. Once marked a contract, an address is
// never un-marked: contract code does not disappear. An address marked EOA
// may later deploy code on-chain; the cache intentionally does not track
// that — it exists to avoid redundant lookups within one run, not as a
// long-term source of truth.
func (c *Cache) Mark(addr common.Address, isContract bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.known[addr]; ok && existing {
		return
	}
	c.known[addr] = isContract
}

// Clear empties the cache. Exposed for tests only.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known = make(map[common.Address]bool)
}
