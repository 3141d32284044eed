package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/bountyboard/game/quest"
	"github.com/kasuganosora/bountyboard/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no ticket has the requested id.
var ErrNotFound = errors.New("ticket: not found")

var openStates = []string{string(StateAccepted), string(StateInProgress)}

var activeStates = []string{string(StateAccepted), string(StateInProgress), string(StateCompleted)}

// Store persists tickets.
type Store interface {
	Create(ctx context.Context, t *Ticket) error
	Save(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id string) (*Ticket, error)
	ListByChar(ctx context.Context, charID int64) ([]*Ticket, error)
	ListActiveByChar(ctx context.Context, charID int64, now time.Time) ([]*Ticket, error)
	ListOpenByBoard(ctx context.Context, boardID string) ([]*Ticket, error)
	ListExpired(ctx context.Context, now time.Time) ([]*Ticket, error)
}

// GormStore is the gorm-backed Store.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{db: db, logger: logger}
}

// WithTx returns a store whose writes join tx.
func (s *GormStore) WithTx(tx *gorm.DB) *GormStore {
	return &GormStore{db: tx, logger: s.logger}
}

func (s *GormStore) Create(ctx context.Context, t *Ticket) error {
	row := toModel(t)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("ticket: create %s: %w", t.ID, err)
	}
	return nil
}

func (s *GormStore) Save(ctx context.Context, t *Ticket) error {
	row := toModel(t)
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("ticket: save %s: %w", t.ID, err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*Ticket, error) {
	var row model.QuestTicket
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromModel(&row)
}

func (s *GormStore) ListByChar(ctx context.Context, charID int64) ([]*Ticket, error) {
	return s.list(ctx, s.db.WithContext(ctx).Where("char_id = ?", charID).Order("accepted_at"))
}

// ListActiveByChar lists the tickets that count against a character's limit.
// Open tickets past their deadline are left out even before the sweep fails them.
func (s *GormStore) ListActiveByChar(ctx context.Context, charID int64, now time.Time) ([]*Ticket, error) {
	return s.list(ctx, s.db.WithContext(ctx).
		Where("char_id = ? AND state IN ?", charID, activeStates).
		Where("NOT (state IN ? AND expires_at IS NOT NULL AND expires_at <= ?)", openStates, now))
}

func (s *GormStore) ListOpenByBoard(ctx context.Context, boardID string) ([]*Ticket, error) {
	return s.list(ctx, s.db.WithContext(ctx).Where("board_id = ? AND state IN ?", boardID, openStates))
}

func (s *GormStore) ListExpired(ctx context.Context, now time.Time) ([]*Ticket, error) {
	return s.list(ctx, s.db.WithContext(ctx).
		Where("state IN ? AND expires_at IS NOT NULL AND expires_at <= ?", openStates, now))
}

// list loads rows and skips any whose stored quest no longer forms a valid definition.
func (s *GormStore) list(_ context.Context, q *gorm.DB) ([]*Ticket, error) {
	var rows []model.QuestTicket
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Ticket, 0, len(rows))
	for i := range rows {
		t, err := fromModel(&rows[i])
		if err != nil {
			s.logger.Warn("skipping corrupt ticket row",
				zap.String("ticket_id", rows[i].ID),
				zap.Error(err))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func toModel(t *Ticket) *model.QuestTicket {
	row := &model.QuestTicket{
		ID:             t.ID,
		CharID:         t.Owner,
		BoardID:        t.BoardID,
		OfferID:        t.OfferID,
		Profession:     string(t.Def.Profession()),
		Tier:           t.Def.Tier(),
		RequiredItem:   string(t.Def.RequiredItem()),
		RequiredAmount: t.Def.RequiredAmount(),
		State:          string(t.State),
		Deposited:      t.Deposited,
		FailReason:     t.FailReason,
		AcceptedAt:     t.AcceptedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	if !t.ExpiresAt.IsZero() {
		exp := t.ExpiresAt
		row.ExpiresAt = &exp
	}
	return row
}

func fromModel(row *model.QuestTicket) (*Ticket, error) {
	def, err := quest.NewDefinition(quest.Profession(row.Profession), row.Tier,
		quest.ItemRef(row.RequiredItem), row.RequiredAmount)
	if err != nil {
		return nil, err
	}
	state := State(row.State)
	if !state.Valid() {
		return nil, fmt.Errorf("%w: state %q", quest.ErrInvalidDefinition, row.State)
	}
	t := &Ticket{
		ID:         row.ID,
		BoardID:    row.BoardID,
		OfferID:    row.OfferID,
		Def:        def,
		State:      state,
		Owner:      row.CharID,
		Deposited:  row.Deposited,
		FailReason: row.FailReason,
		AcceptedAt: row.AcceptedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if row.ExpiresAt != nil {
		t.ExpiresAt = *row.ExpiresAt
	}
	return t, nil
}
