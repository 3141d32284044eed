package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/bountyboard/cache"
	"github.com/kasuganosora/bountyboard/config"
	"github.com/kasuganosora/bountyboard/game/board"
	"github.com/kasuganosora/bountyboard/game/player"
	mw "github.com/kasuganosora/bountyboard/middleware"
	"github.com/kasuganosora/bountyboard/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler is the Gin handler for GET /ws.
type Handler struct {
	db       *gorm.DB
	cache    cache.Cache
	sec      config.SecurityConfig
	sm       *player.SessionManager
	boards   *board.Manager
	profiles player.ProfileProvider
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(
	db *gorm.DB,
	c cache.Cache,
	sec config.SecurityConfig,
	sm *player.SessionManager,
	boards *board.Manager,
	profiles player.ProfileProvider,
	router *Router,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		db:       db,
		cache:    c,
		sec:      sec,
		sm:       sm,
		boards:   boards,
		profiles: profiles,
		router:   router,
		logger:   logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// authenticate resolves the token and character of a connect request.
func (h *Handler) authenticate(c *gin.Context) (accountID int64, ch *model.Character, status int, msg string) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		return 0, nil, http.StatusUnauthorized, "missing token"
	}
	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		return 0, nil, http.StatusUnauthorized, "invalid token"
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.cache.Exists(ctx, mw.SessionKey(tokenStr))
	if err != nil || !exists {
		return 0, nil, http.StatusUnauthorized, "session expired"
	}

	charID, err := strconv.ParseInt(c.Query("char_id"), 10, 64)
	if err != nil || charID <= 0 {
		return 0, nil, http.StatusBadRequest, "invalid char_id"
	}
	var row model.Character
	err = h.db.WithContext(ctx).Where("id = ? AND account_id = ?", charID, claims.AccountID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil, http.StatusForbidden, "character not owned"
	}
	if err != nil {
		return 0, nil, http.StatusInternalServerError, "internal error"
	}
	return claims.AccountID, &row, 0, ""
}

// ServeWS handles GET /ws?token=<jwt>&char_id=<id>.
func (h *Handler) ServeWS(c *gin.Context) {
	accountID, ch, status, msg := h.authenticate(c)
	if ch == nil {
		c.JSON(status, gin.H{"error": msg})
		return
	}
	prof, err := h.profiles.Profile(c.Request.Context(), ch.ID)
	if err != nil {
		h.logger.Error("profile load failed", zap.Int64("char_id", ch.ID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "profile unavailable"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	sess := player.NewPlayerSession(accountID, ch.ID, conn, h.logger)
	sess.CharName = ch.Name
	sess.SetProfile(prof.Profession, prof.Level)
	h.attach(sess)
	h.readPump(sess)
}

// attach registers s, evicting any earlier session of the same character. The
// evicted session is told its board closed before its connection goes.
func (h *Handler) attach(s *player.PlayerSession) {
	if old := h.sm.Get(s.CharID); old != nil {
		if id := old.OpenBoard(); id != "" {
			h.boards.Close(context.Background(), id, old.SessionID())
			old.SendBoardClosed(id, board.CloseReplaced)
		}
	}
	h.sm.Register(s)
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(s *player.PlayerSession) {
	defer h.handleDisconnect(s)

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("char_id", s.CharID),
					zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(s, raw)
	}
}

// handleDisconnect detaches the session from its board and the registry.
func (h *Handler) handleDisconnect(s *player.PlayerSession) {
	s.Close()
	if id := s.OpenBoard(); id != "" {
		h.boards.Close(context.Background(), id, s.SessionID())
		s.SetOpenBoard("")
	}
	h.sm.Unregister(s)
	h.logger.Info("player disconnected",
		zap.Int64("account_id", s.AccountID),
		zap.Int64("char_id", s.CharID))
}
