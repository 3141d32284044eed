package rest_test

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kasuganosora/bountyboard/audit"
	"github.com/kasuganosora/bountyboard/game/bounty"
	"github.com/kasuganosora/bountyboard/game/player"
	"github.com/kasuganosora/bountyboard/game/quest"
	"github.com/kasuganosora/bountyboard/game/ticket"
	"github.com/kasuganosora/bountyboard/model"
	"github.com/kasuganosora/bountyboard/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAdminKey(t *testing.T) {
	s := newServer(t)

	w := adminRequest(s.r, http.MethodGet, "/api/admin/metrics", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = adminRequest(s.r, http.MethodGet, "/api/admin/metrics", "wrong", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = adminRequest(s.r, http.MethodGet, "/api/admin/metrics", adminKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetrics(t *testing.T) {
	s := newServer(t)
	s.place(t, 1)

	w := adminRequest(s.r, http.MethodGet, "/api/admin/metrics", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(0), resp["online_players"])
	assert.Equal(t, float64(1), resp["boards"])
	assert.Contains(t, resp, "board_viewers")
	assert.Contains(t, resp, "scheduler_tasks")
}

func TestListPlayers(t *testing.T) {
	s := newServer(t)
	ch := testutil.CreateCharacter(t, s.db, "Online", "miner", 4)
	sess := player.NewPlayerSession(ch.AccountID, ch.ID, nil, zap.NewNop())
	sess.SetProfile("miner", 4)
	s.sm.Register(sess)

	w := adminRequest(s.r, http.MethodGet, "/api/admin/players", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(1), resp["count"])
	p := resp["players"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, float64(ch.ID), p["char_id"])
	assert.Equal(t, "miner", p["profession"])
	assert.Equal(t, float64(4), p["level"])
}

func TestKickPlayer(t *testing.T) {
	s := newServer(t)

	w := adminRequest(s.r, http.MethodPost, "/api/admin/kick/999", adminKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = adminRequest(s.r, http.MethodPost, "/api/admin/kick/abc", adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sess := player.NewPlayerSession(1, 42, nil, zap.NewNop())
	s.sm.Register(sess)
	w = adminRequest(s.r, http.MethodPost, "/api/admin/kick/42", adminKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, sess.IsClosed())
}

func TestBanAccount(t *testing.T) {
	s := newServer(t)
	_, accountID := login(t, s.r, "troll", "pass1234")

	w := adminRequest(s.r, http.MethodPost, "/api/admin/accounts/999/ban", adminKey, map[string]bool{"ban": true})
	assert.Equal(t, http.StatusNotFound, w.Code)

	path := "/api/admin/accounts/" + strconv.FormatInt(accountID, 10) + "/ban"
	w = adminRequest(s.r, http.MethodPost, path, adminKey, map[string]bool{"ban": true})
	require.Equal(t, http.StatusOK, w.Code)

	var acc model.Account
	require.NoError(t, s.db.First(&acc, accountID).Error)
	assert.Equal(t, 0, acc.Status)

	w = postJSON(s.r, "/api/auth/login", map[string]string{"username": "troll", "password": "pass1234"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSchedulerTasks(t *testing.T) {
	s := newServer(t)
	var runs atomic.Int32
	s.sched.AddTicker("ticket_expiry", time.Hour, func(context.Context) { runs.Add(1) })

	w := adminRequest(s.r, http.MethodGet, "/api/admin/scheduler", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tasks := decode(t, w)["tasks"].([]interface{})
	require.Len(t, tasks, 1)
	assert.Equal(t, "ticket_expiry", tasks[0].(map[string]interface{})["name"])

	w = adminRequest(s.r, http.MethodPost, "/api/admin/scheduler/ticket_expiry/run", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), runs.Load())

	w = adminRequest(s.r, http.MethodPost, "/api/admin/scheduler/nope/run", adminKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReloadQuests(t *testing.T) {
	s := newServer(t)
	require.Equal(t, 2, s.catalog.Len())

	w := adminRequest(s.r, http.MethodPost, "/api/admin/quests/reload", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, float64(3), resp["loaded"])
	assert.Equal(t, float64(0), resp["skipped"])
	assert.Equal(t, 3, s.catalog.Len())
}

func TestReloadQuestsMalformedKeepsCatalog(t *testing.T) {
	s := newServerWithQuests(t, `{"not": "an array"}`)

	w := adminRequest(s.r, http.MethodPost, "/api/admin/quests/reload", adminKey, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 2, s.catalog.Len())
}

func TestReloadQuestsEmptyKeepsCatalog(t *testing.T) {
	s := newServerWithQuests(t, `[]`)

	w := adminRequest(s.r, http.MethodPost, "/api/admin/quests/reload", adminKey, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 2, s.catalog.Len())
}

func TestReloadQuestsMissingFile(t *testing.T) {
	s := newServer(t)
	require.NoError(t, os.Remove(s.admin.QuestsPath))

	w := adminRequest(s.r, http.MethodPost, "/api/admin/quests/reload", adminKey, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 2, s.catalog.Len())
}

func TestPlaceBoard(t *testing.T) {
	s := newServer(t)
	body := map[string]interface{}{
		"variant":  "cook",
		"location": map[string]interface{}{"world": "overworld", "x": 10, "y": 64, "z": -3},
	}

	w := adminRequest(s.r, http.MethodPost, "/api/admin/boards", adminKey, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode(t, w)["board"].(map[string]interface{})
	assert.Equal(t, "cook", first["variant"])
	assert.Equal(t, "class", first["family"])

	// same location answers with the board already there
	w = adminRequest(s.r, http.MethodPost, "/api/admin/boards", adminKey, body)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, false, resp["created"])
	assert.Equal(t, first["id"], resp["board"].(map[string]interface{})["id"])

	var n int64
	require.NoError(t, s.db.Model(&model.BoardPlacement{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestPlaceBoardUnknownVariant(t *testing.T) {
	s := newServer(t)
	w := adminRequest(s.r, http.MethodPost, "/api/admin/boards", adminKey,
		map[string]interface{}{"variant": "alchemist"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = adminRequest(s.r, http.MethodPost, "/api/admin/boards", adminKey, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDestroyBoardFailsOpenTickets(t *testing.T) {
	s := newServer(t)
	b := s.place(t, 1)
	ch := testutil.CreateCharacter(t, s.db, "Digger", "miner", 3)
	tk, err := s.svc.Accept(context.Background(), bounty.AcceptRequest{
		CharID: ch.ID, BoardID: b.ID(), OfferID: b.Slots()[0].OfferID,
	})
	require.NoError(t, err)

	w := adminRequest(s.r, http.MethodDelete, "/api/admin/boards/"+b.ID(), adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), decode(t, w)["failed_tickets"])

	ts, err := s.svc.Tickets(context.Background(), ch.ID)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, tk.ID, ts[0].ID)
	assert.Equal(t, ticket.StateFailed, ts[0].State)
	assert.Equal(t, ticket.ReasonBoardRemoved, ts[0].FailReason)

	w = adminRequest(s.r, http.MethodDelete, "/api/admin/boards/"+b.ID(), adminKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBoardAudit(t *testing.T) {
	s := newServer(t)
	b := s.place(t, 1)
	// flush the async writer
	s.audit.Stop(context.Background())

	w := adminRequest(s.r, http.MethodGet, "/api/admin/boards/"+b.ID()+"/audit", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode(t, w)["entries"].([]interface{})
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionBoardPlace, entries[0].(map[string]interface{})["action"])
}

// viewing registers an online session for ch with board b open.
func viewing(t *testing.T, s *server, ch *model.Character, boardID string) *player.PlayerSession {
	t.Helper()
	sess := player.NewPlayerSession(ch.AccountID, ch.ID, nil, zap.NewNop())
	sess.SetProfile(quest.Profession(ch.Profession), ch.Level)
	s.sm.Register(sess)
	_, err := s.boards.Open(context.Background(), boardID, sess, ch.ID, quest.Profession(ch.Profession))
	require.NoError(t, err)
	sess.SetOpenBoard(boardID)
	return sess
}

func TestSetProfessionRemasksOpenBoard(t *testing.T) {
	s := newServer(t)
	b := s.place(t, 1)
	ch := testutil.CreateCharacter(t, s.db, "Switcher", "cook", 3)
	sess := viewing(t, s, ch, b.ID())

	hidden, ok := b.Mask(sess.ID)
	require.True(t, ok)
	require.Len(t, hidden, 1, "the miner offer is hidden from a cook")
	for len(sess.SendChan) > 0 {
		<-sess.SendChan
	}

	path := "/api/admin/characters/" + strconv.FormatInt(ch.ID, 10) + "/profession"
	w := adminRequest(s.r, http.MethodPost, path, adminKey, map[string]string{"profession": "miner"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, b.ID(), decode(t, w)["remasked_board"])

	hidden, _ = b.Mask(sess.ID)
	assert.Empty(t, hidden)
	prof, level := sess.Profile()
	assert.Equal(t, quest.ProfessionMiner, prof)
	assert.Equal(t, 3, level)
	require.NotEmpty(t, sess.SendChan, "a fresh mask is pushed")

	var stored model.Character
	require.NoError(t, s.db.First(&stored, ch.ID).Error)
	assert.Equal(t, "miner", stored.Profession)
}

func TestSetProfessionOffline(t *testing.T) {
	s := newServer(t)
	ch := testutil.CreateCharacter(t, s.db, "Away", "cook", 1)
	path := "/api/admin/characters/" + strconv.FormatInt(ch.ID, 10) + "/profession"

	w := adminRequest(s.r, http.MethodPost, path, adminKey, map[string]string{"profession": "wizard"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = adminRequest(s.r, http.MethodPost, path, adminKey, map[string]string{"profession": "miner"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", decode(t, w)["remasked_board"])

	w = adminRequest(s.r, http.MethodPost, "/api/admin/characters/999/profession", adminKey, map[string]string{"profession": "miner"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBoardDetail(t *testing.T) {
	s := newServer(t)
	b := s.place(t, 1)
	ch := testutil.CreateCharacter(t, s.db, "Reader", "miner", 1)
	sess := viewing(t, s, ch, b.ID())

	w := adminRequest(s.r, http.MethodGet, "/api/admin/boards/"+b.ID(), adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, b.ID(), resp["board"].(map[string]interface{})["id"])
	assert.Equal(t, []interface{}{sess.ID}, resp["viewers"])
	assert.Equal(t, "1", resp["info"].(map[string]interface{})["viewers_local"])
	assert.Len(t, resp["slots"], 2)

	w = adminRequest(s.r, http.MethodGet, "/api/admin/boards/nope", adminKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
