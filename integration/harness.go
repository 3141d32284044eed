package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	apirest "github.com/kasuganosora/bountyboard/api/rest"
	"github.com/kasuganosora/bountyboard/api/sse"
	apows "github.com/kasuganosora/bountyboard/api/ws"
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
	"github.com/kasuganosora/bountyboard/plugin/hook"
	"github.com/kasuganosora/bountyboard/scheduler"
	"github.com/kasuganosora/bountyboard/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// AdminKey is the admin API key every TestServer accepts.
const AdminKey = "integration-key"

// TestServer wraps a real HTTP server with the bounty subsystems wired as main does.
type TestServer struct {
	DB        *gorm.DB
	Cache     cache.Cache
	PubSub    cache.PubSub
	Catalog   *quest.Catalog
	Boards    *board.Manager
	Service   *bounty.Service
	Inventory *item.InventoryService
	Sessions  *player.SessionManager
	Hooks     *hook.HookCenter
	Sched     *scheduler.Scheduler
	Server    *httptest.Server
	URL       string
	WSURL     string

	cancel context.CancelFunc
	audit  *audit.Service
}

// NewTestServer starts a server whose catalog holds an open bread quest and a
// miner ore quest. Boards carry two quest slots.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	sec := config.SecurityConfig{JWTSecret: "integration-secret", JWTTTLH: time.Hour}

	def := func(p quest.Profession, tier int, it string, amount int) *quest.Definition {
		d, err := quest.NewDefinition(p, tier, quest.ItemRef(it), amount)
		require.NoError(t, err)
		return d
	}
	catalog := quest.NewCatalog([]*quest.Definition{
		def(quest.ProfessionAny, 1, "bread", 4),
		def(quest.ProfessionMiner, 2, "iron_ore", 16),
	})
	items := quest.NewItemRegistry(quest.ItemDef{ID: "bread"}, quest.ItemDef{ID: "iron_ore"})

	auditSvc := audit.New(db, logger)
	hooks := hook.NewHookCenter()
	sm := player.NewSessionManager(logger)
	profiles := player.NewGormProfiles(db)
	inv := item.NewInventoryService(db, items)
	tickets := ticket.NewGormStore(db, logger)

	boards := board.NewManager(board.DefaultRegistry(), catalog, board.Options{QuestSlots: 2}, board.Deps{
		DB: db, Cache: c, PubSub: ps, Tickets: tickets, Hooks: hooks, Audit: auditSvc, Logger: logger,
	})
	svc := bounty.NewService(bounty.Config{
		MaxActive: 3,
		TicketTTL: time.Hour,
		Policy:    ticket.BeginOnFirstDeposit,
	}, bounty.Deps{
		DB: db, Boards: boards, Tickets: tickets, Profiles: profiles,
		Inventory: inv, Hooks: hooks, Audit: auditSvc, Logger: logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = boards.Run(ctx) }()

	sched := scheduler.New(logger)
	sched.AddTicker("board_tick", time.Hour, func(context.Context) { boards.TickAll(time.Now()) })
	sched.AddTicker("ticket_expiry", time.Hour, func(ctx context.Context) { _, _ = svc.SweepExpired(ctx) })

	wsRouter := apows.NewRouter(logger)
	wsRouter.Limit(mw.NewLimiters(rate.Limit(1000), 1000))
	apows.NewBoardHandlers(boards, svc, inv, logger).RegisterHandlers(wsRouter)

	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))

	auth := mw.Auth(sec, c)
	authH := apirest.NewAuthHandler(db, c, sec, logger)
	charH := apirest.NewCharacterHandler(db, svc)
	invH := apirest.NewInventoryHandler(db, inv)
	boardH := apirest.NewBoardHandler(db, boards)
	adminH := apirest.NewAdminHandler(apirest.AdminDeps{
		DB: db, Sessions: sm, Boards: boards, Sched: sched, Audit: auditSvc, Logger: logger,
	})

	api := r.Group("/api")
	api.POST("/auth/login", authH.Login)
	api.POST("/auth/logout", auth, authH.Logout)
	chars := api.Group("/characters", auth)
	chars.GET("", charH.List)
	chars.POST("", charH.Create)
	chars.GET("/:id/tickets", charH.Tickets)
	chars.GET("/:id/inventory", invH.List)
	boardsG := api.Group("/boards", auth)
	boardsG.GET("", boardH.List)
	boardsG.GET("/:id", boardH.Get)
	admin := api.Group("/admin", mw.AdminKey(AdminKey))
	admin.GET("/metrics", adminH.Metrics)
	admin.GET("/players", adminH.ListPlayers)
	admin.POST("/characters/:id/profession", adminH.SetProfession)
	admin.POST("/boards", adminH.PlaceBoard)
	admin.DELETE("/boards/:id", adminH.DestroyBoard)
	admin.GET("/boards/:id", adminH.BoardDetail)

	wsH := apows.NewHandler(db, c, sec, sm, boards, profiles, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)
	r.GET("/sse", auth, sse.NewHandler(ps, logger).ServeSSE)

	srv := httptest.NewServer(r)
	ts := &TestServer{
		DB:        db,
		Cache:     c,
		PubSub:    ps,
		Catalog:   catalog,
		Boards:    boards,
		Service:   svc,
		Inventory: inv,
		Sessions:  sm,
		Hooks:     hooks,
		Sched:     sched,
		Server:    srv,
		URL:       srv.URL,
		WSURL:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		cancel:    cancel,
		audit:     auditSvc,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close stops the server and its background workers.
func (ts *TestServer) Close() {
	ts.Sessions.CloseAllSessions()
	ts.Server.Close()
	ts.cancel()
	ts.Sched.Stop()
	ts.audit.Stop(context.Background())
}

// PlaceBoard places a board through the admin API and returns its ID.
func (ts *TestServer) PlaceBoard(t *testing.T, variant string, x int) string {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"variant":  variant,
		"location": map[string]interface{}{"world": "overworld", "x": x},
	})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/admin/boards", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(mw.AdminKeyHeader, AdminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	return result["board"].(map[string]interface{})["id"].(string)
}

// --- HTTP helpers ---

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest("POST", ts.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("GET", ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Delete sends a DELETE request with JSON body and optional Bearer token.
func (ts *TestServer) Delete(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest("DELETE", ts.URL+path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- Auth helpers ---

// Login logs in (auto-registers on first call) and returns the token and account ID.
func (ts *TestServer) Login(t *testing.T, username, password string) (token string, accountID int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	token = result["token"].(string)
	accountID = int64(result["account_id"].(float64))
	return
}

// CreateCharacter creates a character of the given profession and returns its ID.
func (ts *TestServer) CreateCharacter(t *testing.T, token, name, profession string) int64 {
	t.Helper()
	resp := ts.PostJSON(t, "/api/characters", map[string]interface{}{
		"name":       name,
		"profession": profession,
	}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	return int64(result["id"].(float64))
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// Uses a background readLoop to avoid gorilla/websocket's SetReadDeadline bug.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult // buffered channel from readLoop
}

type readResult struct {
	data []byte
	err  error
}

// ConnectWS dials the WS endpoint as the given character.
func (ts *TestServer) ConnectWS(t *testing.T, token string, charID int64) *WSClient {
	t.Helper()
	url := fmt.Sprintf("%s?token=%s&char_id=%d", ts.WSURL, token, charID)
	dialer := websocket.Dialer{}
	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	return wc
}

// dialWS dials without failing the test, for handshake rejection checks.
func dialWS(ts *TestServer, token string, charID int64) (*websocket.Conn, *http.Response, error) {
	url := fmt.Sprintf("%s?token=%s&char_id=%d", ts.WSURL, token, charID)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, resp, err
}

// readLoop continuously reads from the websocket in a dedicated goroutine.
func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes a JSON message packet to the WebSocket.
func (wc *WSClient) Send(msgType string, payload interface{}) {
	wc.t.Helper()
	seq := atomic.AddUint64(&wc.seq, 1)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	pkt := map[string]interface{}{
		"seq":     seq,
		"type":    msgType,
		"payload": json.RawMessage(payloadJSON),
	}
	data, err := json.Marshal(pkt)
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
}

// Recv reads one message from the WebSocket with a timeout.
func (wc *WSClient) Recv(timeout time.Duration) map[string]interface{} {
	wc.t.Helper()
	pkt, err := wc.RecvAny(timeout)
	require.NoError(wc.t, err, "WS recv failed")
	return pkt
}

// RecvAny reads one message from the WebSocket with a timeout, returning an error
// instead of failing the test on timeout/read failure.
// Reads from the background readLoop channel to avoid gorilla/websocket's
// SetReadDeadline bug which permanently corrupts the connection after a timeout.
func (wc *WSClient) RecvAny(timeout time.Duration) (map[string]interface{}, error) {
	select {
	case res := <-wc.readCh:
		if res.err != nil {
			return nil, res.err
		}
		var pkt map[string]interface{}
		if err := json.Unmarshal(res.data, &pkt); err != nil {
			return nil, err
		}
		if payloadStr, ok := pkt["payload"].(string); ok {
			var nested interface{}
			if json.Unmarshal([]byte(payloadStr), &nested) == nil {
				pkt["payload"] = nested
			}
		}
		return pkt, nil
	case <-time.After(timeout):
		return nil, &timeoutError{}
	}
}

// timeoutError implements net.Error for timeout detection in callers.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "read timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

// RecvType reads messages until one with the given type is found (within timeout).
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) map[string]interface{} {
	wc.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		pkt, err := wc.RecvAny(remaining)
		if err != nil {
			wc.t.Fatalf("WS recv failed while waiting for %q: %v", msgType, err)
		}
		if pkt["type"] == msgType {
			return pkt
		}
	}
	wc.t.Fatalf("timed out waiting for message type %q", msgType)
	return nil
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}

// PayloadMap extracts the payload from a received WS packet as a map.
func PayloadMap(t *testing.T, pkt map[string]interface{}) map[string]interface{} {
	t.Helper()
	p := pkt["payload"]
	if p == nil {
		return map[string]interface{}{}
	}
	switch v := p.(type) {
	case map[string]interface{}:
		return v
	case string:
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(v), &m))
		return m
	default:
		// Try re-marshal + unmarshal for json.RawMessage etc.
		data, err := json.Marshal(v)
		require.NoError(t, err)
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}
}

// --- Composite helper ---

// LoginAndConnect logs in, creates a character of the given profession and
// connects its socket.
func (ts *TestServer) LoginAndConnect(t *testing.T, username, charName, profession string) (string, int64, *WSClient) {
	t.Helper()
	token, _ := ts.Login(t, username, username+"pass")
	charID := ts.CreateCharacter(t, token, charName, profession)
	ws := ts.ConnectWS(t, token, charID)
	t.Cleanup(ws.Close)
	return token, charID, ws
}

// UniqueID returns a short unique string suitable for usernames/character names.
var testCounter uint64

func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}
