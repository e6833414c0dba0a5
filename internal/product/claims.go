package product

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyWritten reports a product path that another source wrote
// earlier in the same run.
var ErrAlreadyWritten = errors.New("product already written in this run")

// Claims records which source wrote each product path during one run.
// Safe for concurrent use.
type Claims struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewClaims returns an empty claim set.
func NewClaims() *Claims {
	return &Claims{owners: make(map[string]string)}
}

// Claim reserves path for owner. Claiming a path again with the same owner
// succeeds, so retried writes are not refused.
func (c *Claims) Claim(path, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.owners[path]; ok && prev != owner {
		return fmt.Errorf("%w: %s by %s", ErrAlreadyWritten, path, prev)
	}
	c.owners[path] = owner
	return nil
}

// Release drops the claim of owner on path.
func (c *Claims) Release(path, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owners[path] == owner {
		delete(c.owners, path)
	}
}
