package board

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kasuganosora/bountyboard/game/quest"
)

// ErrUnknownVariant is returned when a board names a variant nobody registered.
var ErrUnknownVariant = errors.New("board: unknown variant")

// Family separates boards that need periodic refresh from those that do not.
type Family int

const (
	FamilySingle Family = iota
	FamilyClass
)

func (f Family) String() string {
	if f == FamilyClass {
		return "class"
	}
	return "single"
}

// TickState is what a tick routine may touch. It is only valid for the duration of
// the call, which runs under the board's write lock.
type TickState struct {
	Slots      SlotStore
	QuestSlots int
	Pool       []*quest.Definition
	OfferTTL   time.Duration
	Cursor     *int
	Now        time.Time
}

// TickFunc is a periodic board routine. It reports whether any slot changed.
type TickFunc func(ts *TickState) bool

// Variant is the per-profession behaviour of a board.
type Variant struct {
	Name       string
	Profession quest.Profession
	Family     Family
	// Tick is nil for boards that need no periodic work.
	Tick TickFunc
	// Pool selects the catalog entries this board offers. Nil means
	// "definitions whose profession equals Profession".
	Pool func(*quest.Definition) bool
}

// InPool reports whether d belongs to this variant's quest pool.
func (v Variant) InPool(d *quest.Definition) bool {
	if v.Pool != nil {
		return v.Pool(d)
	}
	return d.Profession() == v.Profession
}

func everyQuest(*quest.Definition) bool { return true }

// defaultVariants is the whole board family table. Adding a profession is one line.
var defaultVariants = []Variant{
	{Name: "generic", Profession: quest.ProfessionAny, Family: FamilySingle, Pool: everyQuest},
	{Name: "blacksmith", Profession: quest.ProfessionBlacksmith, Family: FamilySingle},
	{Name: "brewer", Profession: quest.ProfessionBrewer, Family: FamilySingle},
	{Name: "miner", Profession: quest.ProfessionMiner, Family: FamilySingle},
	{Name: "cook", Profession: quest.ProfessionCook, Family: FamilyClass, Tick: RefreshOffers},
	{Name: "courier", Profession: quest.ProfessionCourier, Family: FamilyClass, Tick: RefreshOffers},
	{Name: "warrior", Profession: quest.ProfessionWarrior, Family: FamilyClass, Tick: RefreshOffers},
}

// Registry maps variant names to behaviour.
type Registry struct {
	variants map[string]Variant
}

// NewRegistry creates a registry from vs.
func NewRegistry(vs ...Variant) *Registry {
	r := &Registry{variants: make(map[string]Variant, len(vs))}
	for _, v := range vs {
		r.variants[v.Name] = v
	}
	return r
}

// DefaultRegistry returns a registry holding the standard board variants.
func DefaultRegistry() *Registry { return NewRegistry(defaultVariants...) }

// Resolve looks up a variant by name.
func (r *Registry) Resolve(name string) (Variant, error) {
	v, ok := r.variants[name]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	return v, nil
}

// PromoteToClass moves the named variants into the class family, giving them the
// standard refresh routine.
func (r *Registry) PromoteToClass(names ...string) error {
	for _, n := range names {
		v, err := r.Resolve(n)
		if err != nil {
			return err
		}
		v.Family = FamilyClass
		if v.Tick == nil {
			v.Tick = RefreshOffers
		}
		r.variants[n] = v
	}
	return nil
}

// Names returns the registered variant names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.variants))
	for n := range r.variants {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
