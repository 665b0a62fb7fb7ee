// Package market provides the symbol catalog and the per-contract price
// cache.
//
// The catalog holds static contract metadata (price tick, exchange) fed
// lazily from gateway lookups. The price cache mirrors top-of-book and
// daily limit prices from ticks: bid/ask refresh on every tick, limits
// are captured once per session. A contract is "priced" only when both
// sides are present — orders for unpriced contracts wait in the engine's
// send queue.
package market

import (
	"sync"

	"follow-trader/pkg/types"
)

// Catalog caches contract metadata keyed by contract key.
// Concurrency-safe: the HTTP surface reads it outside the event loop.
type Catalog struct {
	mu        sync.RWMutex
	contracts map[string]types.ContractData
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{contracts: make(map[string]types.ContractData)}
}

// Put stores metadata for one contract.
func (c *Catalog) Put(contract types.ContractData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contracts[contract.Key()] = contract
}

// Get returns metadata for a contract key.
func (c *Catalog) Get(key string) (types.ContractData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	contract, ok := c.contracts[key]
	return contract, ok
}

// Contains reports whether the contract is known. Expired contracts are
// absent, which lets the engine drop their empty position entries at stop.
func (c *Catalog) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.contracts[key]
	return ok
}

// Remove drops a contract, e.g. after expiry.
func (c *Catalog) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.contracts, key)
}

// Keys returns all known contract keys.
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.contracts))
	for k := range c.contracts {
		keys = append(keys, k)
	}
	return keys
}
