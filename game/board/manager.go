package board

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/bountyboard/audit"
	"github.com/kasuganosora/bountyboard/cache"
	"github.com/kasuganosora/bountyboard/game/quest"
	"github.com/kasuganosora/bountyboard/game/ticket"
	"github.com/kasuganosora/bountyboard/model"
	"github.com/kasuganosora/bountyboard/plugin/hook"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// ChannelChanged carries the id of a board whose slots changed.
const ChannelChanged = "board:changed"

const (
	placeLockTTL   = 10 * time.Second
	publishTimeout = 2 * time.Second
)

var (
	ErrNotFound      = errors.New("board: not found")
	ErrPlacementBusy = errors.New("board: location is being placed by another node")
)

func placeLockKey(loc Location) string { return "board:place:" + loc.Key() }
func viewersKey(id string) string      { return "board:viewers:" + id }
func metaKey(id string) string         { return "board:meta:" + id }

// Deps are the collaborators a Manager needs.
type Deps struct {
	DB      *gorm.DB
	Cache   cache.Cache
	PubSub  cache.PubSub
	Tickets ticket.Store
	Hooks   *hook.HookCenter
	Audit   *audit.Service
	Logger  *zap.Logger
	Now     func() time.Time
}

// Manager owns every board in the world, indexed by id and by location.
type Manager struct {
	mu     sync.RWMutex
	boards map[string]*Board
	byLoc  map[string]string

	placing singleflight.Group // by location key

	registry *Registry
	catalog  *quest.Catalog
	opts     Options
	node     string

	db      *gorm.DB
	cache   cache.Cache
	pubsub  cache.PubSub
	tickets ticket.Store
	hooks   *hook.HookCenter
	audit   *audit.Service
	logger  *zap.Logger
	now     func() time.Time
}

// NewManager creates a Manager. Boards it builds draw offers from catalog.
func NewManager(reg *Registry, catalog *quest.Catalog, opts Options, d Deps) *Manager {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		boards:   make(map[string]*Board),
		byLoc:    make(map[string]string),
		registry: reg,
		catalog:  catalog,
		opts:     opts,
		node:     uuid.NewString(),
		db:       d.DB,
		cache:    d.Cache,
		pubsub:   d.PubSub,
		tickets:  d.Tickets,
		hooks:    d.Hooks,
		audit:    d.Audit,
		logger:   d.Logger,
		now:      now,
	}
}

// Get returns a board by id.
func (m *Manager) Get(id string) (*Board, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.boards[id]
	return b, ok
}

// List returns every live board, ordered by id.
func (m *Manager) List() []*Board {
	m.mu.RLock()
	out := make([]*Board, 0, len(m.boards))
	for _, b := range m.boards {
		out = append(out, b)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Place puts a board of the named variant at loc. Placing at an occupied location
// returns the board already there with created=false.
func (m *Manager) Place(ctx context.Context, loc Location, variant string) (*Board, bool, error) {
	v, err := m.registry.Resolve(variant)
	if err != nil {
		return nil, false, err
	}
	b, created, err := m.place(ctx, loc, v)
	if err != nil || !created {
		return b, created, err
	}
	m.logger.Info("board placed",
		zap.String("board_id", b.ID()),
		zap.String("variant", v.Name),
		zap.String("location", loc.Key()))
	m.audit.Log(audit.Entry{BoardID: b.ID(), Action: audit.ActionBoardPlace, Request: loc})
	_, _ = m.hooks.Trigger(ctx, hook.OnBoardPlaced, m.boardEvent(b))
	return b, true, nil
}

func (m *Manager) place(ctx context.Context, loc Location, v Variant) (*Board, bool, error) {
	if b, ok := m.atLocation(loc); ok {
		return b, false, nil
	}

	// concurrent callers for one location share a single placement; only the
	// caller whose fn ran may report it as created
	ran := false
	res, err, _ := m.placing.Do(loc.Key(), func() (any, error) {
		ran = true
		b, created, err := m.placeOnce(ctx, loc, v)
		return placed{b, created}, err
	})
	if err != nil {
		return nil, false, err
	}
	p := res.(placed)
	return p.board, p.created && ran, nil
}

type placed struct {
	board   *Board
	created bool
}

// placeOnce claims loc in the database and attaches the board. Storage and
// cache round trips run without m.mu held.
func (m *Manager) placeOnce(ctx context.Context, loc Location, v Variant) (*Board, bool, error) {
	if b, ok := m.atLocation(loc); ok {
		return b, false, nil
	}
	if m.cache != nil {
		ok, err := m.cache.SetNX(ctx, placeLockKey(loc), m.node, placeLockTTL)
		if err != nil {
			return nil, false, fmt.Errorf("board: place lock %s: %w", loc.Key(), err)
		}
		if !ok {
			return nil, false, ErrPlacementBusy
		}
		defer func() { _ = m.cache.Del(context.WithoutCancel(ctx), placeLockKey(loc)) }()
	}

	row, created, err := m.claimLocation(ctx, loc, v.Name)
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	if id, ok := m.byLoc[loc.Key()]; ok {
		// LoadPlaced got there first
		b := m.boards[id]
		m.mu.Unlock()
		return b, false, nil
	}
	b, err := m.attach(row)
	m.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	m.recordMeta(ctx, b)
	return b, created, nil
}

func (m *Manager) atLocation(loc Location) (*Board, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byLoc[loc.Key()]
	if !ok {
		return nil, false
	}
	return m.boards[id], true
}

// claimLocation returns the placement row for loc, creating it if absent.
func (m *Manager) claimLocation(ctx context.Context, loc Location, variant string) (model.BoardPlacement, bool, error) {
	var row model.BoardPlacement
	find := func() error {
		return m.db.WithContext(ctx).
			Where("world = ? AND x = ? AND y = ? AND z = ?", loc.World, loc.X, loc.Y, loc.Z).
			First(&row).Error
	}
	err := find()
	if err == nil {
		return row, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return row, false, fmt.Errorf("board: lookup %s: %w", loc.Key(), err)
	}
	row = model.BoardPlacement{ID: uuid.NewString(), World: loc.World, X: loc.X, Y: loc.Y, Z: loc.Z, Variant: variant}
	if err := m.db.WithContext(ctx).Create(&row).Error; err != nil {
		// another node may have won the unique index
		if ferr := find(); ferr == nil {
			return row, false, nil
		}
		return row, false, fmt.Errorf("board: persist placement %s: %w", loc.Key(), err)
	}
	return row, true, nil
}

// attach builds the in-memory board for a placement row. Must hold m.mu.
func (m *Manager) attach(row model.BoardPlacement) (*Board, error) {
	v, err := m.registry.Resolve(row.Variant)
	if err != nil {
		return nil, err
	}
	loc := Location{World: row.World, X: row.X, Y: row.Y, Z: row.Z}
	b := New(row.ID, loc, v, m.catalog, m.opts, m.now(), m.notify)
	m.boards[b.ID()] = b
	m.byLoc[loc.Key()] = b.ID()
	return b, nil
}

// recordMeta publishes a board's metadata to the shared cache for Info.
func (m *Manager) recordMeta(ctx context.Context, b *Board) {
	if m.cache == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	id := b.ID()
	_ = m.cache.HSet(ctx, metaKey(id), "variant", b.Variant().Name)
	_ = m.cache.HSet(ctx, metaKey(id), "location", b.Location().Key())
	_ = m.cache.HSet(ctx, metaKey(id), "node", m.node)
}

// LoadPlaced rebuilds every persisted board. Rows naming an unknown variant are
// skipped with a warning.
func (m *Manager) LoadPlaced(ctx context.Context) (int, error) {
	var rows []model.BoardPlacement
	if err := m.db.WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("board: load placements: %w", err)
	}
	m.mu.Lock()
	attached := make([]*Board, 0, len(rows))
	for _, row := range rows {
		if _, ok := m.boards[row.ID]; ok {
			continue
		}
		b, err := m.attach(row)
		if err != nil {
			m.logger.Warn("skipping board placement",
				zap.String("board_id", row.ID),
				zap.String("variant", row.Variant),
				zap.Error(err))
			continue
		}
		attached = append(attached, b)
	}
	m.mu.Unlock()

	for _, b := range attached {
		m.recordMeta(ctx, b)
	}
	return len(attached), nil
}

// DestroyResult summarizes a board removal.
type DestroyResult struct {
	ClosedViewers int `json:"closed_viewers"`
	FailedTickets int `json:"failed_tickets"`
}

// Destroy removes a board. Every viewer is closed and every open ticket on the
// board is failed before Destroy returns.
func (m *Manager) Destroy(ctx context.Context, id string) (DestroyResult, error) {
	m.mu.Lock()
	b, ok := m.boards[id]
	if !ok {
		m.mu.Unlock()
		return DestroyResult{}, ErrNotFound
	}
	delete(m.boards, id)
	delete(m.byLoc, b.Location().Key())
	m.mu.Unlock()

	// destroy waits for any in-flight claim, so its ticket is visible below
	res := DestroyResult{ClosedViewers: b.destroy(CloseRemoved)}

	var errs []error
	open, err := m.tickets.ListOpenByBoard(ctx, id)
	if err != nil {
		errs = append(errs, err)
	}
	now := m.now()
	for _, t := range open {
		if err := t.Fail(ticket.ReasonBoardRemoved, now); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.tickets.Save(ctx, t); err != nil {
			errs = append(errs, err)
			continue
		}
		res.FailedTickets++
		_, _ = m.hooks.Trigger(ctx, hook.OnTicketFailed, hook.TicketEvent{
			CharID:   t.Owner,
			TicketID: t.ID,
			BoardID:  id,
			QuestKey: t.Def.Key(),
			Reason:   ticket.ReasonBoardRemoved,
		})
	}

	if err := m.db.WithContext(ctx).Delete(&model.BoardPlacement{}, "id = ?", id).Error; err != nil {
		errs = append(errs, err)
	}
	if m.cache != nil {
		_ = m.cache.Del(ctx, viewersKey(id), metaKey(id))
	}

	m.logger.Info("board destroyed",
		zap.String("board_id", id),
		zap.Int("closed_viewers", res.ClosedViewers),
		zap.Int("failed_tickets", res.FailedTickets))
	m.audit.Log(audit.Entry{BoardID: id, Action: audit.ActionBoardDestroy, Request: res, Err: errors.Join(errs...)})
	_, _ = m.hooks.Trigger(ctx, hook.OnBoardDestroyed, m.boardEvent(b))
	m.publish(id)

	if err := errors.Join(errs...); err != nil {
		return res, fmt.Errorf("board: destroy %s: %w", id, err)
	}
	return res, nil
}

// Open attaches a viewer to a board and records its presence.
func (m *Manager) Open(ctx context.Context, id string, v Viewer, charID int64, p quest.Profession) (*Board, error) {
	b, ok := m.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if _, err := b.Open(v, charID, p); err != nil {
		return nil, err
	}
	if m.cache != nil {
		if err := m.cache.SAdd(ctx, viewersKey(id), v.SessionID()); err != nil {
			m.logger.Warn("viewer presence not recorded", zap.String("board_id", id), zap.Error(err))
		}
	}
	return b, nil
}

// Close detaches a viewer from a board.
func (m *Manager) Close(ctx context.Context, id, sessionID string) {
	if b, ok := m.Get(id); ok {
		b.Close(sessionID)
	}
	if m.cache != nil {
		_ = m.cache.SRem(ctx, viewersKey(id), sessionID)
	}
}

// Viewers lists the session ids recorded as viewing a board on any node.
func (m *Manager) Viewers(ctx context.Context, id string) ([]string, error) {
	if m.cache == nil {
		return nil, nil
	}
	ids, err := m.cache.SMembers(ctx, viewersKey(id))
	sort.Strings(ids)
	return ids, err
}

// SetViewerProfession pushes a fresh mask to a viewer whose profession changed.
func (m *Manager) SetViewerProfession(id, sessionID string, p quest.Profession) error {
	b, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	return b.SetViewerProfession(sessionID, p)
}

// TickAll runs the periodic routine of every class board.
func (m *Manager) TickAll(now time.Time) int {
	n := 0
	for _, b := range m.List() {
		if b.Tick(now) {
			n++
		}
	}
	return n
}

// notify is the boards' change callback. It never blocks the caller.
func (m *Manager) notify(id string) {
	go m.publish(id)
}

func (m *Manager) publish(id string) {
	if m.pubsub == nil {
		if b, ok := m.Get(id); ok {
			b.SyncMasks()
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := m.pubsub.Publish(ctx, ChannelChanged, id); err != nil {
		m.logger.Warn("board change not published", zap.String("board_id", id), zap.Error(err))
	}
}

// Run pushes fresh masks to viewers whenever a board change is published. It
// returns when ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if m.pubsub == nil {
		<-ctx.Done()
		return nil
	}
	ch, cancel, err := m.pubsub.Subscribe(ctx, ChannelChanged)
	if err != nil {
		return fmt.Errorf("board: subscribe: %w", err)
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if b, found := m.Get(msg.Payload); found {
				b.SyncMasks()
			}
		}
	}
}

func (m *Manager) boardEvent(b *Board) hook.BoardEvent {
	loc := b.Location()
	return hook.BoardEvent{
		BoardID: b.ID(),
		Variant: b.Variant().Name,
		World:   loc.World,
		X:       loc.X,
		Y:       loc.Y,
		Z:       loc.Z,
	}
}

// Info returns the cached metadata of a board.
func (m *Manager) Info(ctx context.Context, id string) (map[string]string, error) {
	if m.cache == nil {
		return map[string]string{}, nil
	}
	info, err := m.cache.HGetAll(ctx, metaKey(id))
	if err != nil {
		return nil, err
	}
	if b, ok := m.Get(id); ok {
		info["viewers_local"] = strconv.Itoa(b.ViewerCount())
	}
	return info, nil
}
