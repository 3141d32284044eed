package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/bountyboard/game/board"
	"github.com/kasuganosora/bountyboard/game/quest"
	"gorm.io/gorm"
)

// BoardHandler serves read-only board listings to players.
type BoardHandler struct {
	db     *gorm.DB
	boards *board.Manager
}

// NewBoardHandler creates a new BoardHandler.
func NewBoardHandler(db *gorm.DB, boards *board.Manager) *BoardHandler {
	return &BoardHandler{db: db, boards: boards}
}

type boardSummary struct {
	ID       string         `json:"id"`
	Variant  string         `json:"variant"`
	Family   string         `json:"family"`
	Location board.Location `json:"location"`
	Viewers  int            `json:"viewers"`
}

func summarize(b *board.Board) boardSummary {
	v := b.Variant()
	return boardSummary{
		ID:       b.ID(),
		Variant:  v.Name,
		Family:   v.Family.String(),
		Location: b.Location(),
		Viewers:  b.ViewerCount(),
	}
}

// List handles GET /api/boards.
func (h *BoardHandler) List(c *gin.Context) {
	boards := h.boards.List()
	out := make([]boardSummary, 0, len(boards))
	for _, b := range boards {
		out = append(out, summarize(b))
	}
	c.JSON(http.StatusOK, gin.H{"boards": out})
}

// Get handles GET /api/boards/:id?char_id=N. Only the slots the character's
// profession may see are returned.
func (h *BoardHandler) Get(c *gin.Context) {
	b, ok := h.boards.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "board not found"})
		return
	}
	if c.Query("char_id") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "char_id required"})
		return
	}
	char, ok := ownedCharacter(c, h.db, c.Query("char_id"))
	if !ok {
		return
	}
	prof, err := quest.ParseProfession(char.Profession)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "character profession corrupt"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"board": summarize(b),
		"slots": b.VisibleTo(prof),
	})
}
