package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/bountyboard/cache"
	"github.com/kasuganosora/bountyboard/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testSec = config.SecurityConfig{JWTSecret: "secret", JWTTTLH: time.Hour}

func setupTestCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.NewCache(cache.CacheConfig{})
	require.NoError(t, err)
	return c
}

func newProtectedRouter(c cache.Cache, seen *int64) *gin.Engine {
	r := gin.New()
	r.Use(Auth(testSec, c))
	r.GET("/protected", func(ctx *gin.Context) {
		if seen != nil {
			*seen = GetAccountID(ctx)
		}
		ctx.Status(http.StatusOK)
	})
	return r
}

func liveToken(t *testing.T, c cache.Cache, accountID int64) string {
	t.Helper()
	token, err := GenerateToken(accountID, testSec.JWTSecret, time.Hour)
	require.NoError(t, err)
	require.NoError(t, StoreSession(context.Background(), c, token, accountID, time.Hour))
	return token
}

func TestAuth_Rejections(t *testing.T) {
	c := setupTestCache(t)
	orphan, err := GenerateToken(42, testSec.JWTSecret, time.Hour)
	require.NoError(t, err)

	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Token abc123",
		"garbage token":  "Bearer notavalidtoken",
		"no session":     "Bearer " + orphan,
	}
	r := newProtectedRouter(c, nil)
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAuth_HeaderToken(t *testing.T) {
	c := setupTestCache(t)
	var seen int64
	r := newProtectedRouter(c, &seen)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+liveToken(t, c, 42))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(42), seen)
}

func TestAuth_QueryToken(t *testing.T) {
	c := setupTestCache(t)
	var seen int64
	r := newProtectedRouter(c, &seen)

	req := httptest.NewRequest(http.MethodGet, "/protected?token="+liveToken(t, c, 7), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(7), seen)
}

func TestAuth_RevokedSession(t *testing.T) {
	c := setupTestCache(t)
	r := newProtectedRouter(c, nil)
	token := liveToken(t, c, 42)
	require.NoError(t, RevokeSession(context.Background(), c, token))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetAccountID(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, int64(0), GetAccountID(c))
	c.Set(AccountIDKey, int64(99))
	assert.Equal(t, int64(99), GetAccountID(c))
}

func TestRecovery_CatchesPanic(t *testing.T) {
	r := gin.New()
	r.Use(TraceID())
	r.Use(Recovery(zap.NewNop()))
	r.GET("/panic", func(c *gin.Context) {
		panic("test panic")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), w.Header().Get(TraceIDHeader))
}

func TestLogger_PassesStatusThrough(t *testing.T) {
	r := gin.New()
	r.Use(TraceID())
	r.Use(Logger(zap.NewNop()))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for path, want := range map[string]int{"/ok": http.StatusOK, "/fail": http.StatusInternalServerError} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code, path)
	}
}
