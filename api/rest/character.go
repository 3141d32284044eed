package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/bountyboard/game/bounty"
	"github.com/kasuganosora/bountyboard/game/quest"
	mw "github.com/kasuganosora/bountyboard/middleware"
	"github.com/kasuganosora/bountyboard/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const maxCharacters = 3

// CharacterHandler handles character REST endpoints.
type CharacterHandler struct {
	db     *gorm.DB
	bounty *bounty.Service
}

// NewCharacterHandler creates a new CharacterHandler. svc may be nil when the
// ticket listing is not routed.
func NewCharacterHandler(db *gorm.DB, svc *bounty.Service) *CharacterHandler {
	return &CharacterHandler{db: db, bounty: svc}
}

// ownedCharacter loads the character named by the :id path param if it belongs to
// the caller. On failure it has already written the response.
func ownedCharacter(c *gin.Context, db *gorm.DB, raw string) (*model.Character, bool) {
	charID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return nil, false
	}
	var char model.Character
	err = db.Where("id = ? AND account_id = ?", charID, mw.GetAccountID(c)).First(&char).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil, false
	}
	return &char, true
}

// List handles GET /api/characters.
func (h *CharacterHandler) List(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	var chars []model.Character
	if err := h.db.Where("account_id = ?", accountID).Order("id").Find(&chars).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"characters": chars})
}

type createCharacterRequest struct {
	Name       string `json:"name"       binding:"required,min=1,max=32"`
	Profession string `json:"profession"`
}

// Create handles POST /api/characters.
func (h *CharacterHandler) Create(c *gin.Context) {
	accountID := mw.GetAccountID(c)

	var req createCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prof, err := quest.ParseProfession(req.Profession)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profession"})
		return
	}

	var n int64
	if err := h.db.Model(&model.Character{}).Where("account_id = ?", accountID).Count(&n).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if n >= maxCharacters {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max characters reached"})
		return
	}

	char := &model.Character{
		AccountID:  accountID,
		Name:       req.Name,
		Profession: string(prof),
		Level:      1,
		BagSlots:   27,
	}
	if err := h.db.Create(char).Error; err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "character name already taken"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusCreated, char)
}

type deleteCharacterRequest struct {
	Password string `json:"password" binding:"required"`
}

// Delete handles DELETE /api/characters/:id.
func (h *CharacterHandler) Delete(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	charID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req deleteCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password required"})
		return
	}

	var acc model.Account
	if err := h.db.First(&acc, accountID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "wrong password"})
		return
	}

	result := h.db.Where("id = ? AND account_id = ?", charID, accountID).Delete(&model.Character{})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// Tickets handles GET /api/characters/:id/tickets.
func (h *CharacterHandler) Tickets(c *gin.Context) {
	char, ok := ownedCharacter(c, h.db, c.Param("id"))
	if !ok {
		return
	}
	ts, err := h.bounty.Tickets(c.Request.Context(), char.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": bounty.Views(ts)})
}
