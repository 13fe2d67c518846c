package certchain

import (
	"crypto/x509"
	"sync"
)

// Cache holds verified signing certificate chains keyed by their chain URL.
// Entries are only written after full validation and are never swept;
// expiry is checked by the Resolver on every read.
type Cache struct {
	mu     sync.RWMutex
	chains map[string][]*x509.Certificate
}

// NewCache creates an empty certificate cache.
func NewCache() *Cache {
	return &Cache{
		chains: make(map[string][]*x509.Certificate),
	}
}

// Get returns the signing (leaf) certificate cached for url, if any.
func (c *Cache) Get(url string) (*x509.Certificate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chain, ok := c.chains[url]
	if !ok {
		return nil, false
	}
	return chain[0], true
}

// GetChain returns a copy of the chain cached for url, leaf first.
func (c *Cache) GetChain(url string) ([]*x509.Certificate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chain, ok := c.chains[url]
	if !ok {
		return nil, false
	}
	return append([]*x509.Certificate(nil), chain...), true
}

// Put stores chain under url, replacing any previous entry. The first
// certificate is the leaf; an empty chain is ignored.
func (c *Cache) Put(url string, chain ...*x509.Certificate) {
	if len(chain) == 0 || chain[0] == nil {
		return
	}
	stored := append([]*x509.Certificate(nil), chain...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.chains[url] = stored
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chains)
}

// Flush removes every cached entry.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chains = make(map[string][]*x509.Certificate)
}
