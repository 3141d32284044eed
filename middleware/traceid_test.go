package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// newTraceRouter echoes the trace id the way the quest handlers forward it
// into accept and deposit requests.
func newTraceRouter() *gin.Engine {
	r := gin.New()
	r.Use(TraceID())
	r.POST("/api/quests/accept", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"trace_id": GetTraceID(c)})
	})
	return r
}

func acceptTrace(t *testing.T, r *gin.Engine, header string) (body, echoed string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/quests/accept", nil)
	if header != "" {
		req.Header.Set(TraceIDHeader, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		TraceID string `json:"trace_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.TraceID, w.Header().Get(TraceIDHeader)
}

func TestTraceID_ClientIDs(t *testing.T) {
	r := newTraceRouter()
	cases := []struct {
		name   string
		header string
		kept   bool
	}{
		{"none", "", false},
		{"client id", "accept-7f3a:board.42", true},
		{"too long", strings.Repeat("a", maxTraceIDLen+1), false},
		{"max length", strings.Repeat("a", maxTraceIDLen), true},
		{"spaces", "offer 1", false},
		{"newline", "x\ny", false},
		{"json breaking", `a"b`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, echoed := acceptTrace(t, r, tc.header)
			assert.Equal(t, id, echoed)
			if tc.kept {
				assert.Equal(t, tc.header, id)
				return
			}
			assert.Len(t, id, 36, "replaced with a uuid")
		})
	}
}

func TestTraceID_UniquePerRequest(t *testing.T) {
	r := newTraceRouter()
	a, _ := acceptTrace(t, r, "")
	b, _ := acceptTrace(t, r, "")
	assert.NotEqual(t, a, b)
}

func TestGetTraceID_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "", GetTraceID(c))
}

func TestTraceID_ReachesRequestLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(TraceID(), Logger(zap.New(core)))
	r.POST("/api/characters/:id/deposit", func(c *gin.Context) {
		c.Status(http.StatusUnprocessableEntity)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/characters/9/deposit", nil)
	req.Header.Set(TraceIDHeader, "deposit-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "deposit-1", fields["trace_id"])
	assert.Equal(t, "/api/characters/:id/deposit", fields["path"])
	assert.Equal(t, int64(http.StatusUnprocessableEntity), fields["status"])
}
