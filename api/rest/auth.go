package rest

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/bountyboard/cache"
	"github.com/kasuganosora/bountyboard/config"
	mw "github.com/kasuganosora/bountyboard/middleware"
	"github.com/kasuganosora/bountyboard/model"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const cacheTimeout = 2 * time.Second

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	sec    config.SecurityConfig
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(db *gorm.DB, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, cache: c, sec: sec, logger: logger}
}

type loginRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Password string `json:"password" binding:"required,min=4,max=64"`
}

// Login handles POST /api/auth/login.
// Auto-registers on first login if the username does not exist.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var acc model.Account
	err := h.db.Where("username = ?", req.Username).First(&acc).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		acc = model.Account{Username: req.Username, PasswordHash: string(hash), Status: 1}
		if err := h.db.Create(&acc).Error; err != nil {
			// another request registered the same name first
			if isUniqueViolation(err) {
				c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
			}
			return
		}
		h.logger.Info("account registered", zap.Int64("account_id", acc.ID))
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	default:
		if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if acc.Status == 0 {
			c.JSON(http.StatusForbidden, gin.H{"error": "account banned"})
			return
		}
	}

	token, err := mw.GenerateToken(acc.ID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), cacheTimeout)
	defer cancel()
	if err := mw.StoreSession(ctx, h.cache, token, acc.ID, h.sec.JWTTTLH); err != nil {
		h.logger.Error("session not stored", zap.Int64("account_id", acc.ID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
		return
	}

	// best-effort
	_ = h.db.Model(&acc).Update("last_login_at", time.Now())

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"account_id": acc.ID,
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := mw.BearerToken(c)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), cacheTimeout)
	defer cancel()
	_ = mw.RevokeSession(ctx, h.cache, token)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), cacheTimeout)
	defer cancel()
	_ = mw.RevokeSession(ctx, h.cache, mw.BearerToken(c))

	token, err := mw.GenerateToken(accountID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	if err := mw.StoreSession(ctx, h.cache, token, accountID, h.sec.JWTTTLH); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
