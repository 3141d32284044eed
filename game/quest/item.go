package quest

import (
	"errors"
	"sort"
	"sync"
)

// ErrUnknownItem is returned when an item identifier is not in the registry.
var ErrUnknownItem = errors.New("quest: unknown item")

// ItemRef is a stable global item identifier, e.g. "bounty:iron_ingot".
type ItemRef string

// ItemStack is a quantity of one item.
type ItemStack struct {
	Item ItemRef `json:"item"`
	Qty  int     `json:"qty"`
}

// Empty reports whether the stack holds nothing.
func (s ItemStack) Empty() bool { return s.Item == "" || s.Qty <= 0 }

// ItemDef describes one registered item.
type ItemDef struct {
	ID       ItemRef `yaml:"id" json:"id"`
	Name     string  `yaml:"name" json:"name"`
	MaxStack int     `yaml:"max_stack" json:"max_stack"`
}

// ItemRegistry is the set of item identifiers the server knows about.
// It is built once at startup and handed to the components that resolve items.
type ItemRegistry struct {
	mu    sync.RWMutex
	items map[ItemRef]ItemDef
}

// NewItemRegistry creates a registry holding defs.
func NewItemRegistry(defs ...ItemDef) *ItemRegistry {
	r := &ItemRegistry{items: make(map[ItemRef]ItemDef, len(defs))}
	for _, d := range defs {
		r.Register(d)
	}
	return r
}

// Register adds or replaces an item definition.
func (r *ItemRegistry) Register(def ItemDef) {
	if def.MaxStack <= 0 {
		def.MaxStack = 64
	}
	r.mu.Lock()
	r.items[def.ID] = def
	r.mu.Unlock()
}

// Lookup resolves id, returning ErrUnknownItem when absent.
func (r *ItemRegistry) Lookup(id ItemRef) (ItemDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.items[id]
	if !ok {
		return ItemDef{}, ErrUnknownItem
	}
	return def, nil
}

// Has reports whether id is registered.
func (r *ItemRegistry) Has(id ItemRef) bool {
	_, err := r.Lookup(id)
	return err == nil
}

// IDs returns the registered identifiers in sorted order.
func (r *ItemRegistry) IDs() []ItemRef {
	r.mu.RLock()
	ids := make([]ItemRef, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered items.
func (r *ItemRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
