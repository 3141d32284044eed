package quest

import "sync/atomic"

// Catalog holds the active set of quest definitions. Replace swaps the whole set at
// once so readers always observe either the old or the new set.
type Catalog struct {
	defs atomic.Pointer[[]*Definition]
}

// NewCatalog creates a catalog holding defs.
func NewCatalog(defs []*Definition) *Catalog {
	c := &Catalog{}
	c.Replace(defs)
	return c
}

// Replace atomically installs defs as the active set.
func (c *Catalog) Replace(defs []*Definition) {
	cp := make([]*Definition, len(defs))
	copy(cp, defs)
	c.defs.Store(&cp)
}

// All returns the active definitions. The slice must not be modified.
func (c *Catalog) All() []*Definition {
	p := c.defs.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Filter returns the active definitions accepted by keep.
func (c *Catalog) Filter(keep func(*Definition) bool) []*Definition {
	var out []*Definition
	for _, d := range c.All() {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of active definitions.
func (c *Catalog) Len() int { return len(c.All()) }
