package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/bountyboard/audit"
	"github.com/kasuganosora/bountyboard/game/board"
	"github.com/kasuganosora/bountyboard/game/player"
	"github.com/kasuganosora/bountyboard/game/quest"
	mw "github.com/kasuganosora/bountyboard/middleware"
	"github.com/kasuganosora/bountyboard/model"
	"github.com/kasuganosora/bountyboard/resource"
	"github.com/kasuganosora/bountyboard/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminDeps are the services the operator endpoints drive.
type AdminDeps struct {
	DB         *gorm.DB
	Sessions   *player.SessionManager
	Boards     *board.Manager
	Quests     *resource.QuestLoader
	QuestsPath string
	Sched      *scheduler.Scheduler
	Audit      *audit.Service
	Logger     *zap.Logger
}

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by mw.AdminKey and mw.IPWhitelist.
type AdminHandler struct {
	AdminDeps
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(d AdminDeps) *AdminHandler {
	return &AdminHandler{AdminDeps: d}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	viewers := 0
	boards := h.Boards.List()
	for _, b := range boards {
		viewers += b.ViewerCount()
	}
	c.JSON(http.StatusOK, gin.H{
		"online_players":  h.Sessions.Count(),
		"boards":          len(boards),
		"board_viewers":   viewers,
		"scheduler_tasks": h.Sched.Tasks(),
	})
}

// ListPlayers returns a snapshot of all online players.
// GET /api/admin/players
func (h *AdminHandler) ListPlayers(c *gin.Context) {
	type playerInfo struct {
		CharID     int64  `json:"char_id"`
		CharName   string `json:"char_name"`
		Profession string `json:"profession"`
		Level      int    `json:"level"`
		OpenBoard  string `json:"open_board,omitempty"`
	}
	sessions := h.Sessions.All()
	result := make([]playerInfo, 0, len(sessions))
	for _, s := range sessions {
		prof, level := s.Profile()
		result = append(result, playerInfo{
			CharID:     s.CharID,
			CharName:   s.CharName,
			Profession: string(prof),
			Level:      level,
			OpenBoard:  s.OpenBoard(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"players": result, "count": len(result)})
}

// KickPlayer forcibly disconnects a player by character ID.
// POST /api/admin/kick/:id
func (h *AdminHandler) KickPlayer(c *gin.Context) {
	charID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	s := h.Sessions.Get(charID)
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online"})
		return
	}
	s.Close()
	h.Logger.Info("admin kicked player", zap.Int64("char_id", charID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SetProfession changes a character's profession. If the character is online
// its session profile follows, and the board it has open re-masks its offers.
// POST /api/admin/characters/:id/profession
func (h *AdminHandler) SetProfession(c *gin.Context) {
	charID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Profession string `json:"profession" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prof, err := quest.ParseProfession(req.Profession)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profession"})
		return
	}

	result := h.DB.Model(&model.Character{}).Where("id = ?", charID).Update("profession", string(prof))
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return
	}

	remasked := ""
	if s := h.Sessions.Get(charID); s != nil {
		_, level := s.Profile()
		s.SetProfile(prof, level)
		if id := s.OpenBoard(); id != "" {
			if err := h.Boards.SetViewerProfession(id, s.SessionID(), prof); err != nil {
				h.Logger.Warn("viewer mask not refreshed", zap.Int64("char_id", charID), zap.String("board_id", id), zap.Error(err))
			} else {
				remasked = id
			}
		}
	}
	h.Logger.Info("admin changed profession", zap.Int64("char_id", charID), zap.String("profession", string(prof)))
	c.JSON(http.StatusOK, gin.H{"char_id": charID, "profession": prof, "remasked_board": remasked})
}

// BanAccount bans or unbans a player account.
// POST /api/admin/accounts/:id/ban
func (h *AdminHandler) BanAccount(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)

	status := 1
	if req.Ban {
		status = 0
	}
	result := h.DB.Model(&model.Account{}).Where("id = ?", accountID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	if req.Ban {
		for _, s := range h.Sessions.All() {
			if s.AccountID == accountID {
				s.Close()
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status})
}

// ListSchedulerTasks returns every registered ticker with its run counters.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.Sched.Tasks()})
}

// RunTask runs a ticker immediately.
// POST /api/admin/scheduler/:name/run
func (h *AdminHandler) RunTask(c *gin.Context) {
	if err := h.Sched.RunNow(c.Param("name")); err != nil {
		if errors.Is(err, scheduler.ErrUnknownTask) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ReloadQuests re-reads the quest definitions file into the live catalog.
// POST /api/admin/quests/reload
func (h *AdminHandler) ReloadQuests(c *gin.Context) {
	res, err := h.Quests.Reload(h.QuestsPath)
	h.Audit.Log(audit.Entry{
		TraceID: mw.GetTraceID(c),
		Action:  audit.ActionQuestReload,
		Request: res,
		Err:     err,
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

type placeBoardRequest struct {
	Variant  string         `json:"variant" binding:"required"`
	Location board.Location `json:"location"`
}

// PlaceBoard puts a board in the world. Placing on an occupied location returns
// the existing board with 200; a new board answers 201.
// POST /api/admin/boards
func (h *AdminHandler) PlaceBoard(c *gin.Context) {
	var req placeBoardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, created, err := h.Boards.Place(c.Request.Context(), req.Location, req.Variant)
	switch {
	case errors.Is(err, board.ErrUnknownVariant):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, board.ErrPlacementBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.Logger.Error("board placement failed", zap.String("variant", req.Variant), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "placement failed"})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"board": summarize(b), "created": created})
}

// DestroyBoard removes a board, closing its viewers and failing its open tickets.
// DELETE /api/admin/boards/:id
func (h *AdminHandler) DestroyBoard(c *gin.Context) {
	res, err := h.Boards.Destroy(c.Request.Context(), c.Param("id"))
	if errors.Is(err, board.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "board not found"})
		return
	}
	if err != nil {
		// the board is gone either way; report the partial cleanup
		h.Logger.Error("board destroy incomplete", zap.String("board_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

// BoardDetail reports a board with its viewer presence and cached metadata.
// GET /api/admin/boards/:id
func (h *AdminHandler) BoardDetail(c *gin.Context) {
	id := c.Param("id")
	b, ok := h.Boards.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "board not found"})
		return
	}
	viewers, err := h.Boards.Viewers(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	info, err := h.Boards.Info(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if viewers == nil {
		viewers = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"board":   summarize(b),
		"slots":   b.Slots(),
		"viewers": viewers,
		"info":    info,
	})
}

// BoardAudit lists the newest audit entries for a board.
// GET /api/admin/boards/:id/audit?limit=N
func (h *AdminHandler) BoardAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := h.Audit.Recent(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs})
}
