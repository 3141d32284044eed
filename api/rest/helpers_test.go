package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/bountyboard/api/rest"
	"github.com/kasuganosora/bountyboard/audit"
	"github.com/kasuganosora/bountyboard/cache"
	"github.com/kasuganosora/bountyboard/config"
	"github.com/kasuganosora/bountyboard/game/board"
	"github.com/kasuganosora/bountyboard/game/bounty"
	"github.com/kasuganosora/bountyboard/game/item"
	"github.com/kasuganosora/bountyboard/game/player"
	"github.com/kasuganosora/bountyboard/game/quest"
	"github.com/kasuganosora/bountyboard/game/ticket"
	mw "github.com/kasuganosora/bountyboard/middleware"
	"github.com/kasuganosora/bountyboard/resource"
	"github.com/kasuganosora/bountyboard/scheduler"
	"github.com/kasuganosora/bountyboard/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const adminKey = "test-key"

func init() {
	gin.SetMode(gin.TestMode)
}

const questsJSON = `[
	{"profession": "any", "tier": 1, "required_item": "bread", "required_amount": 4},
	{"profession": "miner", "tier": 2, "required_item": "iron_ore", "required_amount": 16},
	{"profession": "cook", "tier": 1, "required_item": "bread", "required_amount": 2}
]`

// server wires every REST handler over in-memory stores, as main does.
type server struct {
	r       *gin.Engine
	db      *gorm.DB
	cache   cache.Cache
	sec     config.SecurityConfig
	boards  *board.Manager
	svc     *bounty.Service
	inv     *item.InventoryService
	sm      *player.SessionManager
	sched   *scheduler.Scheduler
	audit   *audit.Service
	catalog *quest.Catalog
	admin   rest.AdminDeps
}

func newServer(t *testing.T) *server {
	t.Helper()
	return newServerWithQuests(t, questsJSON)
}

func newServerWithQuests(t *testing.T, quests string) *server {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: 72 * time.Hour}

	mk := func(p quest.Profession, tier int, it string, amount int) *quest.Definition {
		d, err := quest.NewDefinition(p, tier, quest.ItemRef(it), amount)
		require.NoError(t, err)
		return d
	}
	catalog := quest.NewCatalog([]*quest.Definition{
		mk(quest.ProfessionAny, 1, "bread", 4),
		mk(quest.ProfessionMiner, 2, "iron_ore", 16),
	})
	items := quest.NewItemRegistry(quest.ItemDef{ID: "bread"}, quest.ItemDef{ID: "iron_ore"})

	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	tickets := ticket.NewGormStore(db, logger)
	boards := board.NewManager(board.DefaultRegistry(), catalog, board.Options{QuestSlots: 2}, board.Deps{
		DB: db, Cache: c, PubSub: ps, Tickets: tickets, Audit: auditSvc, Logger: logger,
	})
	inv := item.NewInventoryService(db, items)
	svc := bounty.NewService(bounty.Config{MaxActive: 3, Policy: ticket.BeginOnFirstDeposit}, bounty.Deps{
		DB: db, Boards: boards, Tickets: tickets, Profiles: player.NewGormProfiles(db),
		Inventory: inv, Audit: auditSvc, Logger: logger,
	})
	loader, err := resource.NewQuestLoader(catalog, items, logger)
	require.NoError(t, err)

	questsPath := filepath.Join(t.TempDir(), "quests.json")
	require.NoError(t, os.WriteFile(questsPath, []byte(quests), 0o644))

	s := &server{
		r:       gin.New(),
		db:      db,
		cache:   c,
		sec:     sec,
		boards:  boards,
		svc:     svc,
		inv:     inv,
		sm:      player.NewSessionManager(logger),
		sched:   sched,
		audit:   auditSvc,
		catalog: catalog,
	}
	s.admin = rest.AdminDeps{
		DB: db, Sessions: s.sm, Boards: boards, Quests: loader, QuestsPath: questsPath,
		Sched: sched, Audit: auditSvc, Logger: logger,
	}

	authH := rest.NewAuthHandler(db, c, sec, logger)
	charH := rest.NewCharacterHandler(db, svc)
	invH := rest.NewInventoryHandler(db, inv)
	boardH := rest.NewBoardHandler(db, boards)
	adminH := rest.NewAdminHandler(s.admin)

	r := s.r
	r.Use(mw.TraceID())
	api := r.Group("/api")
	api.POST("/auth/login", authH.Login)
	api.POST("/auth/logout", mw.Auth(sec, c), authH.Logout)
	api.POST("/auth/refresh", mw.Auth(sec, c), authH.Refresh)

	chars := api.Group("/characters", mw.Auth(sec, c))
	chars.GET("", charH.List)
	chars.POST("", charH.Create)
	chars.DELETE("/:id", charH.Delete)
	chars.GET("/:id/tickets", charH.Tickets)
	chars.GET("/:id/inventory", invH.List)

	boardsG := api.Group("/boards", mw.Auth(sec, c))
	boardsG.GET("", boardH.List)
	boardsG.GET("/:id", boardH.Get)

	admin := api.Group("/admin", mw.AdminKey(adminKey))
	admin.GET("/metrics", adminH.Metrics)
	admin.GET("/players", adminH.ListPlayers)
	admin.POST("/characters/:id/profession", adminH.SetProfession)
	admin.POST("/kick/:id", adminH.KickPlayer)
	admin.POST("/accounts/:id/ban", adminH.BanAccount)
	admin.GET("/scheduler", adminH.ListSchedulerTasks)
	admin.POST("/scheduler/:name/run", adminH.RunTask)
	admin.POST("/quests/reload", adminH.ReloadQuests)
	admin.POST("/boards", adminH.PlaceBoard)
	admin.DELETE("/boards/:id", adminH.DestroyBoard)
	admin.GET("/boards/:id", adminH.BoardDetail)
	admin.GET("/boards/:id/audit", adminH.BoardAudit)
	return s
}

// place puts a generic board at x and returns it.
func (s *server) place(t *testing.T, x int) *board.Board {
	t.Helper()
	b, _, err := s.boards.Place(context.Background(), board.Location{World: "overworld", X: x}, "generic")
	require.NoError(t, err)
	return b
}

func postJSON(r *gin.Engine, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func adminRequest(r *gin.Engine, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(mw.AdminKeyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// login registers or logs in user and returns the token and account id.
func login(t *testing.T, r *gin.Engine, user, pass string) (string, int64) {
	t.Helper()
	w := postJSON(r, "/api/auth/login", map[string]string{"username": user, "password": pass})
	require.Equal(t, http.StatusOK, w.Code, "login failed: %s", w.Body.String())
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["token"].(string), int64(resp["account_id"].(float64))
}

// createCharacter creates a character over the API and returns its id.
func createCharacter(t *testing.T, r *gin.Engine, token, name, profession string) int64 {
	t.Helper()
	w := doRequest(r, http.MethodPost, "/api/characters",
		map[string]string{"name": name, "profession": profession}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ch map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ch))
	return int64(ch["id"].(float64))
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}
