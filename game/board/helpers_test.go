package board

import (
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/bountyboard/game/mask"
	"github.com/kasuganosora/bountyboard/game/quest"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func def(t *testing.T, p quest.Profession, tier int, item string, amount int) *quest.Definition {
	t.Helper()
	d, err := quest.NewDefinition(p, tier, quest.ItemRef(item), amount)
	require.NoError(t, err)
	return d
}

// mixedCatalog holds one quest for each of any, miner and cook.
func mixedCatalog(t *testing.T) *quest.Catalog {
	return quest.NewCatalog([]*quest.Definition{
		def(t, quest.ProfessionAny, 1, "bread", 4),
		def(t, quest.ProfessionMiner, 2, "iron_ore", 16),
		def(t, quest.ProfessionCook, 1, "stew", 2),
	})
}

type fakeViewer struct {
	id string

	mu     sync.Mutex
	masks  [][]byte
	slots  [][]SlotView
	closed []string
}

func newViewer(id string) *fakeViewer { return &fakeViewer{id: id} }

func (f *fakeViewer) SessionID() string { return f.id }

func (f *fakeViewer) SendMask(_ string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.masks = append(f.masks, data)
}

func (f *fakeViewer) SendSlots(_ string, slots []SlotView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots = append(f.slots, slots)
}

func (f *fakeViewer) SendBoardClosed(_ string, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, reason)
}

func (f *fakeViewer) maskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.masks)
}

func (f *fakeViewer) lastMask(t *testing.T) mask.Set {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.masks)
	s, err := mask.Decode(f.masks[len(f.masks)-1])
	require.NoError(t, err)
	return s
}

func (f *fakeViewer) closedReasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}
