package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/bountyboard/game/item"
	"gorm.io/gorm"
)

// InventoryHandler handles inventory REST endpoints.
type InventoryHandler struct {
	db  *gorm.DB
	inv *item.InventoryService
}

// NewInventoryHandler creates a new InventoryHandler.
func NewInventoryHandler(db *gorm.DB, inv *item.InventoryService) *InventoryHandler {
	return &InventoryHandler{db: db, inv: inv}
}

// List handles GET /api/characters/:id/inventory.
func (h *InventoryHandler) List(c *gin.Context) {
	char, ok := ownedCharacter(c, h.db, c.Param("id"))
	if !ok {
		return
	}
	rows, err := h.inv.List(c.Request.Context(), char.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"inventory": rows, "bag_slots": char.BagSlots})
}
