package bounty

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kasuganosora/bountyboard/audit"
	"github.com/kasuganosora/bountyboard/game/acceptance"
	"github.com/kasuganosora/bountyboard/game/board"
	"github.com/kasuganosora/bountyboard/game/item"
	"github.com/kasuganosora/bountyboard/game/player"
	"github.com/kasuganosora/bountyboard/game/quest"
	"github.com/kasuganosora/bountyboard/game/ticket"
	"github.com/kasuganosora/bountyboard/model"
	"github.com/kasuganosora/bountyboard/plugin/hook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotOwner         = errors.New("bounty: ticket belongs to another character")
	ErrNothingToDeposit = errors.New("bounty: nothing to deposit")
)

// Config holds the board rules the service enforces.
type Config struct {
	MaxActive int
	TicketTTL time.Duration
	Policy    ticket.BeginPolicy
	MinLevel  func(tier int) int
}

// Deps are the collaborators a Service needs.
type Deps struct {
	DB        *gorm.DB
	Boards    *board.Manager
	Tickets   *ticket.GormStore
	Profiles  player.ProfileProvider
	Inventory *item.InventoryService
	Hooks     *hook.HookCenter
	Audit     *audit.Service
	Logger    *zap.Logger
	Now       func() time.Time
}

// Service runs the quest lifecycle: accepting offers, depositing items, turning in
// tickets, expiring stale ones and paying deferred rewards.
type Service struct {
	db        *gorm.DB
	boards    *board.Manager
	tickets   *ticket.GormStore
	profiles  player.ProfileProvider
	inventory *item.InventoryService
	hooks     *hook.HookCenter
	audit     *audit.Service
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[int64]*charLock
}

// charLock is dropped from the map once nobody holds or waits on it.
type charLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates a Service.
func NewService(cfg Config, d Deps) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		db:        d.DB,
		boards:    d.Boards,
		tickets:   d.Tickets,
		profiles:  d.Profiles,
		inventory: d.Inventory,
		hooks:     d.Hooks,
		audit:     d.Audit,
		cfg:       cfg,
		logger:    d.Logger,
		now:       now,
		locks:     make(map[int64]*charLock),
	}
}

// lockChar serializes one character's ticket changes so that limits checked
// across boards cannot be raced.
func (s *Service) lockChar(charID int64) func() {
	s.locksMu.Lock()
	l := s.locks[charID]
	if l == nil {
		l = &charLock{}
		s.locks[charID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(s.locks, charID)
		}
		s.locksMu.Unlock()
	}
}

// AcceptRequest asks to claim one offer on one board.
type AcceptRequest struct {
	CharID  int64  `json:"char_id"`
	BoardID string `json:"board_id"`
	OfferID string `json:"offer_id"`
	TraceID string `json:"-"`
}

// Accept turns an offer into a ticket owned by the requesting character. Every
// failure is an *acceptance.Error.
func (s *Service) Accept(ctx context.Context, req AcceptRequest) (*ticket.Ticket, error) {
	start := s.now()
	t, err := s.accept(ctx, req)
	ae := acceptance.Classify(err)

	outcome := "ok"
	if ae != nil {
		outcome = string(ae.Code)
		s.logRejection(req, ae)
	}
	cid := req.CharID
	s.audit.Log(audit.Entry{
		TraceID:  req.TraceID,
		CharID:   &cid,
		BoardID:  req.BoardID,
		Action:   audit.ActionAccept,
		Request:  req,
		Outcome:  outcome,
		Err:      err,
		Duration: s.now().Sub(start),
	})
	if ae != nil {
		return nil, ae
	}

	_, _ = s.hooks.Trigger(ctx, hook.AfterQuestAccept, hook.AcceptEvent{
		CharID:   req.CharID,
		BoardID:  req.BoardID,
		OfferID:  req.OfferID,
		QuestKey: t.Def.Key(),
		TicketID: t.ID,
	})
	return t, nil
}

func (s *Service) accept(ctx context.Context, req AcceptRequest) (*ticket.Ticket, error) {
	b, ok := s.boards.Get(req.BoardID)
	if !ok {
		return nil, acceptance.Reject(acceptance.CodeQuestUnavailable, board.ErrNotFound)
	}

	unlock := s.lockChar(req.CharID)
	defer unlock()

	prof, err := s.profiles.Profile(ctx, req.CharID)
	if err != nil {
		if errors.Is(err, player.ErrCharacterNotFound) {
			return nil, err
		}
		return nil, acceptance.Reject(acceptance.CodeNetworkError, err)
	}
	active, err := s.tickets.ListActiveByChar(ctx, req.CharID, s.now())
	if err != nil {
		return nil, acceptance.Reject(acceptance.CodeNetworkError, err)
	}
	p := acceptance.Player{
		CharID:       req.CharID,
		Profession:   prof.Profession,
		Level:        prof.Level,
		FreeSlots:    prof.FreeSlots,
		ActiveOffers: make([]string, 0, len(active)),
	}
	for _, t := range active {
		p.ActiveOffers = append(p.ActiveOffers, t.OfferID)
	}
	bc := acceptance.BoardContext{MaxActive: s.cfg.MaxActive, MinLevel: s.cfg.MinLevel}

	var created *ticket.Ticket
	err = b.Claim(req.OfferID, func(off *board.Offer) (board.Disposition, error) {
		ar := acceptance.Request{OfferID: req.OfferID, Offered: off != nil}
		if off != nil {
			ar.Def = off.Def
		}
		if err := acceptance.Validate(p, ar, bc); err != nil {
			if acceptance.CodeOf(err) == acceptance.CodeQuestInvalid && off != nil {
				return board.Take, err
			}
			return board.Keep, err
		}

		// handlers run under the board lock and must not call back into the board
		ev := hook.AcceptEvent{CharID: req.CharID, BoardID: req.BoardID, OfferID: req.OfferID, QuestKey: off.Def.Key()}
		if _, err := s.hooks.Trigger(ctx, hook.BeforeQuestAccept, ev); errors.Is(err, hook.ErrInterrupt) {
			return board.Keep, acceptance.Reject(acceptance.CodeQuestUnavailable, err)
		}

		now := s.now()
		t := ticket.New(off.Def, req.BoardID, req.OfferID)
		if err := t.Accept(req.CharID, now, s.cfg.TicketTTL, s.cfg.Policy); err != nil {
			return board.Keep, err
		}
		if err := s.tickets.Create(ctx, t); err != nil {
			return board.Keep, acceptance.Reject(acceptance.CodeNetworkError, err)
		}
		created = t
		return board.Take, nil
	})
	if errors.Is(err, board.ErrDestroyed) {
		return nil, acceptance.Reject(acceptance.CodeQuestUnavailable, err)
	}
	return created, err
}

func (s *Service) logRejection(req AcceptRequest, ae *acceptance.Error) {
	fields := []zap.Field{
		zap.Int64("char_id", req.CharID),
		zap.String("board_id", req.BoardID),
		zap.String("offer_id", req.OfferID),
		zap.String("trace_id", req.TraceID),
		zap.String("code", string(ae.Code)),
		zap.Error(ae),
	}
	switch ae.Code.Kind() {
	case acceptance.KindUser:
		s.logger.Debug("quest accept rejected", fields...)
	case acceptance.KindDataIntegrity:
		s.logger.Warn("corrupt quest offer quarantined", fields...)
	case acceptance.KindTransport:
		s.logger.Warn("quest accept transport failure", fields...)
	default:
		s.logger.Error("quest accept failed", fields...)
	}
}

// DepositRequest hands items from the character's bag to one of its tickets.
type DepositRequest struct {
	CharID   int64         `json:"char_id"`
	TicketID string        `json:"ticket_id"`
	Item     quest.ItemRef `json:"item"`
	Qty      int           `json:"qty"`
	TraceID  string        `json:"-"`
}

// Deposit moves up to Qty items from the bag into the ticket. Only what the
// ticket still needs, and what the bag holds, is taken. The bag change and the
// ticket update commit together.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (*ticket.Ticket, int, error) {
	unlock := s.lockChar(req.CharID)
	defer unlock()

	start := s.now()
	t, used, err := s.deposit(ctx, req)
	cid := req.CharID
	entry := audit.Entry{
		TraceID:  req.TraceID,
		CharID:   &cid,
		Action:   audit.ActionDeposit,
		Request:  req,
		Err:      err,
		Duration: s.now().Sub(start),
	}
	if t != nil {
		entry.BoardID = t.BoardID
	}
	if err != nil {
		entry.Outcome = "error"
	}
	s.audit.Log(entry)
	return t, used, err
}

func (s *Service) deposit(ctx context.Context, req DepositRequest) (*ticket.Ticket, int, error) {
	if req.Qty <= 0 {
		return nil, 0, ErrNothingToDeposit
	}
	t, err := s.ownedTicket(ctx, req.CharID, req.TicketID)
	if err != nil {
		return nil, 0, err
	}
	if now := s.now(); t.Expired(now) {
		// fail it here rather than wait for the sweep
		if err := s.expire(ctx, t, now); err != nil {
			return nil, 0, err
		}
		return t, 0, ticket.ErrExpired
	}
	have, err := s.inventory.Count(ctx, req.CharID, req.Item)
	if err != nil {
		return nil, 0, err
	}
	qty := min(req.Qty, have)
	if qty == 0 {
		return t, 0, fmt.Errorf("%w: no %s in bag", item.ErrNotEnoughItems, req.Item)
	}

	now := s.now()
	used, err := t.Deposit(quest.ItemStack{Item: req.Item, Qty: qty}, now)
	if err != nil {
		return t, 0, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.inventory.WithTx(tx).Remove(ctx, req.CharID, quest.ItemStack{Item: req.Item, Qty: used}); err != nil {
			return err
		}
		return s.tickets.WithTx(tx).Save(ctx, t)
	})
	if err != nil {
		return nil, 0, err
	}
	return t, used, nil
}

// TurnInResult reports the reward paid for a finished ticket.
type TurnInResult struct {
	Experience int  `json:"experience"`
	Level      int  `json:"level"`
	Deferred   bool `json:"deferred"`
}

// TurnIn closes a completed ticket and grants its reward. If the grant fails the
// reward is queued and paid by RetryRewards; the ticket is finished either way.
func (s *Service) TurnIn(ctx context.Context, charID int64, ticketID, traceID string) (*ticket.Ticket, TurnInResult, error) {
	unlock := s.lockChar(charID)
	defer unlock()

	t, err := s.ownedTicket(ctx, charID, ticketID)
	if err != nil {
		return nil, TurnInResult{}, err
	}
	if err := t.Finish(s.now()); err != nil {
		return t, TurnInResult{}, err
	}
	if err := s.tickets.Save(ctx, t); err != nil {
		return nil, TurnInResult{}, err
	}

	// hooks may adjust the payout
	ev := hook.TicketEvent{
		CharID:     charID,
		TicketID:   t.ID,
		BoardID:    t.BoardID,
		QuestKey:   t.Def.Key(),
		Experience: t.Def.RewardExperience(),
	}
	if out, err := s.hooks.Trigger(ctx, hook.OnQuestComplete, ev); err == nil {
		if adjusted, ok := out.(hook.TicketEvent); ok {
			ev = adjusted
		}
	}

	res := TurnInResult{Experience: ev.Experience}
	prof, err := s.profiles.GrantExperience(ctx, charID, ev.Experience)
	if err != nil {
		s.logger.Warn("reward grant failed, queued for retry",
			zap.Int64("char_id", charID),
			zap.String("ticket_id", t.ID),
			zap.Error(err))
		pending := &model.PendingReward{CharID: charID, TicketID: t.ID, Amount: ev.Experience, LastError: err.Error()}
		if qerr := s.db.WithContext(ctx).Create(pending).Error; qerr != nil {
			s.logger.Error("reward lost: could not queue retry",
				zap.Int64("char_id", charID),
				zap.String("ticket_id", t.ID),
				zap.Error(qerr))
			return t, res, fmt.Errorf("bounty: queue reward for %s: %w", t.ID, qerr)
		}
		res.Deferred = true
	} else {
		res.Level = prof.Level
	}

	cid := charID
	s.audit.Log(audit.Entry{TraceID: traceID, CharID: &cid, BoardID: t.BoardID, Action: audit.ActionTurnIn, Request: res})
	return t, res, nil
}

func (s *Service) ownedTicket(ctx context.Context, charID int64, ticketID string) (*ticket.Ticket, error) {
	t, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Owner != charID {
		return nil, ErrNotOwner
	}
	return t, nil
}

// Tickets lists every ticket a character holds, oldest first.
func (s *Service) Tickets(ctx context.Context, charID int64) ([]*ticket.Ticket, error) {
	return s.tickets.ListByChar(ctx, charID)
}

// SweepExpired fails every open ticket whose deadline has passed. A ticket that
// cannot be saved is left for the next sweep.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.tickets.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range expired {
		ok, err := s.expireLocked(ctx, t.Owner, t.ID, now)
		if err != nil {
			s.logger.Warn("expired ticket not saved", zap.String("ticket_id", t.ID), zap.Error(err))
			continue
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		s.logger.Info("expired tickets failed", zap.Int("count", n))
	}
	return n, nil
}

// expireLocked reloads a ticket under its owner's lock, so a deposit in flight
// is either fully before or fully after the expiry.
func (s *Service) expireLocked(ctx context.Context, owner int64, ticketID string, now time.Time) (bool, error) {
	unlock := s.lockChar(owner)
	defer unlock()
	t, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return false, err
	}
	if !t.Expired(now) {
		return false, nil
	}
	return true, s.expire(ctx, t, now)
}

// expire fails an open ticket past its deadline and reports it.
func (s *Service) expire(ctx context.Context, t *ticket.Ticket, now time.Time) error {
	if err := t.Fail(ticket.ReasonExpired, now); err != nil {
		return err
	}
	if err := s.tickets.Save(ctx, t); err != nil {
		return err
	}
	owner := t.Owner
	s.audit.Log(audit.Entry{CharID: &owner, BoardID: t.BoardID, Action: audit.ActionExpire, Request: map[string]string{"ticket_id": t.ID}})
	_, _ = s.hooks.Trigger(ctx, hook.OnTicketFailed, hook.TicketEvent{
		CharID:   t.Owner,
		TicketID: t.ID,
		BoardID:  t.BoardID,
		QuestKey: t.Def.Key(),
		Reason:   ticket.ReasonExpired,
	})
	return nil
}

// RetryRewards pays queued rewards. Rewards that fail again stay queued with
// their attempt count raised.
func (s *Service) RetryRewards(ctx context.Context) (int, error) {
	var pending []model.PendingReward
	if err := s.db.WithContext(ctx).Order("id").Limit(100).Find(&pending).Error; err != nil {
		return 0, err
	}
	paid := 0
	for i := range pending {
		pr := &pending[i]
		if _, err := s.profiles.GrantExperience(ctx, pr.CharID, pr.Amount); err != nil {
			s.db.WithContext(ctx).Model(pr).Updates(map[string]any{
				"attempts":   pr.Attempts + 1,
				"last_error": err.Error(),
			})
			continue
		}
		if err := s.db.WithContext(ctx).Delete(pr).Error; err != nil {
			// paid but still queued; stop so it is not paid twice this round
			return paid, fmt.Errorf("bounty: dequeue reward %d: %w", pr.ID, err)
		}
		paid++
	}
	return paid, nil
}
