package item

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/bountyboard/game/player"
	"github.com/kasuganosora/bountyboard/game/quest"
	"github.com/kasuganosora/bountyboard/model"
	"gorm.io/gorm"
)

var (
	ErrInventoryFull  = errors.New("item: inventory full")
	ErrNotEnoughItems = errors.New("item: not enough items")
)

// InventoryService handles all bag operations. Every row is one stack of at most
// the item's MaxStack.
type InventoryService struct {
	db    *gorm.DB
	items *quest.ItemRegistry
}

// NewInventoryService creates a new InventoryService.
func NewInventoryService(db *gorm.DB, items *quest.ItemRegistry) *InventoryService {
	return &InventoryService{db: db, items: items}
}

// WithTx returns a service bound to tx so bag changes commit with the caller's work.
func (svc *InventoryService) WithTx(tx *gorm.DB) *InventoryService {
	return &InventoryService{db: tx, items: svc.items}
}

func (svc *InventoryService) maxStack(id quest.ItemRef) (int, error) {
	def, err := svc.items.Lookup(id)
	if err != nil {
		return 0, fmt.Errorf("item: %s: %w", id, err)
	}
	return def.MaxStack, nil
}

// Add puts stack into charID's bag, topping up partial stacks before opening new
// rows. Nothing is written if the bag cannot hold all of it.
func (svc *InventoryService) Add(ctx context.Context, charID int64, stack quest.ItemStack) error {
	if stack.Empty() {
		return nil
	}
	limit, err := svc.maxStack(stack.Item)
	if err != nil {
		return err
	}
	return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ch model.Character
		if err := tx.Select("bag_slots").First(&ch, charID).Error; err != nil {
			return err
		}
		var rows []model.Inventory
		if err := tx.Where("char_id = ?", charID).Order("id").Find(&rows).Error; err != nil {
			return err
		}

		left := stack.Qty
		for i := range rows {
			r := &rows[i]
			if r.ItemID != string(stack.Item) || r.Qty >= limit || left == 0 {
				continue
			}
			n := min(limit-r.Qty, left)
			if err := tx.Model(r).Update("qty", r.Qty+n).Error; err != nil {
				return err
			}
			left -= n
		}
		needed := (left + limit - 1) / limit
		if len(rows)+needed > ch.BagSlots {
			return ErrInventoryFull
		}
		for left > 0 {
			n := min(limit, left)
			if err := tx.Create(&model.Inventory{CharID: charID, ItemID: string(stack.Item), Qty: n}).Error; err != nil {
				return err
			}
			left -= n
		}
		return nil
	})
}

// Remove takes stack out of charID's bag, emptying the smallest stacks first.
func (svc *InventoryService) Remove(ctx context.Context, charID int64, stack quest.ItemStack) error {
	if stack.Empty() {
		return nil
	}
	return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []model.Inventory
		if err := tx.Where("char_id = ? AND item_id = ?", charID, string(stack.Item)).
			Order("qty ASC, id ASC").Find(&rows).Error; err != nil {
			return err
		}
		total := 0
		for _, r := range rows {
			total += r.Qty
		}
		if total < stack.Qty {
			return fmt.Errorf("%w: have %d %s, need %d", ErrNotEnoughItems, total, stack.Item, stack.Qty)
		}
		left := stack.Qty
		for i := range rows {
			if left == 0 {
				break
			}
			r := &rows[i]
			if r.Qty <= left {
				if err := tx.Delete(r).Error; err != nil {
					return err
				}
				left -= r.Qty
				continue
			}
			if err := tx.Model(r).Update("qty", r.Qty-left).Error; err != nil {
				return err
			}
			left = 0
		}
		return nil
	})
}

// Count returns how many of item charID carries across all stacks.
func (svc *InventoryService) Count(ctx context.Context, charID int64, item quest.ItemRef) (int, error) {
	var total int64
	err := svc.db.WithContext(ctx).Model(&model.Inventory{}).
		Where("char_id = ? AND item_id = ?", charID, string(item)).
		Select("COALESCE(SUM(qty), 0)").Scan(&total).Error
	return int(total), err
}

// List returns all inventory rows for charID.
func (svc *InventoryService) List(ctx context.Context, charID int64) ([]model.Inventory, error) {
	var rows []model.Inventory
	err := svc.db.WithContext(ctx).Where("char_id = ?", charID).Order("id").Find(&rows).Error
	return rows, err
}

// NotifyUpdate pushes the full bag to the player.
func NotifyUpdate(s *player.PlayerSession, rows []model.Inventory) {
	s.Send(player.NewPacket(player.PktInventory, map[string]any{"items": rows}))
}
