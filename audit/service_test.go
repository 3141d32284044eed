package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kasuganosora/bountyboard/model"
	"github.com/kasuganosora/bountyboard/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLog_FlushedOnStop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	charID := int64(7)
	svc.Log(Entry{
		TraceID:  "trace-123",
		CharID:   &charID,
		BoardID:  "board-1",
		Action:   ActionAccept,
		Request:  map[string]string{"offer_id": "o-1"},
		Duration: 42 * time.Millisecond,
	})
	svc.Stop(context.Background())

	var logs []model.AuditLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "trace-123", logs[0].TraceID)
	assert.Equal(t, "board-1", logs[0].BoardID)
	assert.Equal(t, ActionAccept, logs[0].Action)
	assert.Equal(t, "ok", logs[0].Outcome)
	assert.Equal(t, 42, logs[0].DurationMs)
	assert.JSONEq(t, `{"offer_id":"o-1"}`, string(logs[0].Request))
}

func TestLog_ErrorOutcome(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	svc.Log(Entry{Action: ActionAccept, Outcome: "QUEST_LIMIT_REACHED", Err: errors.New("limit")})
	svc.Stop(context.Background())

	var log model.AuditLog
	require.NoError(t, db.First(&log).Error)
	assert.Equal(t, "QUEST_LIMIT_REACHED", log.Outcome)
	assert.Equal(t, "limit", log.Error)
}

func TestRecent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	for i := 0; i < 5; i++ {
		svc.Log(Entry{BoardID: "b1", Action: ActionDeposit})
	}
	svc.Log(Entry{BoardID: "b2", Action: ActionBoardPlace})
	svc.Stop(context.Background())

	logs, err := svc.Recent(context.Background(), "b1", 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Greater(t, logs[0].ID, logs[1].ID)
	for _, l := range logs {
		assert.Equal(t, "b1", l.BoardID)
	}
}

func TestNilServiceAndDoubleStop(t *testing.T) {
	var nilSvc *Service
	assert.NotPanics(t, func() { nilSvc.Log(Entry{Action: ActionExpire}) })

	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())
	svc.Stop(context.Background())
	assert.NotPanics(t, func() { svc.Stop(context.Background()) })
}
