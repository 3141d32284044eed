package ticket

import (
	"testing"
	"time"

	"github.com/kasuganosora/bountyboard/game/quest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func breadDef(t *testing.T, amount int) *quest.Definition {
	t.Helper()
	d, err := quest.NewDefinition(quest.ProfessionCook, 1, "bounty:bread", amount)
	require.NoError(t, err)
	return d
}

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]State]bool{
		{StateAvailable, StateAccepted}:   true,
		{StateAccepted, StateInProgress}:  true,
		{StateAccepted, StateFailed}:      true,
		{StateInProgress, StateCompleted}: true,
		{StateInProgress, StateFailed}:    true,
		{StateCompleted, StateFinished}:   true,
	}
	all := []State{StateAvailable, StateAccepted, StateInProgress, StateCompleted, StateFinished, StateFailed}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]State{from, to}], CanTransition(from, to), "%s → %s", from, to)
		}
	}
}

func TestAvailableToCompletedRejected(t *testing.T) {
	tk := New(breadDef(t, 2), "b", "o")
	err := tk.Transition(StateCompleted, t0)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateAvailable, tk.State)

	err = tk.Complete(t0)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLifecycle_FirstDepositPolicy(t *testing.T) {
	tk := New(breadDef(t, 5), "b", "o")
	require.NoError(t, tk.Accept(7, t0, time.Hour, BeginOnFirstDeposit))
	assert.Equal(t, StateAccepted, tk.State)
	assert.Equal(t, int64(7), tk.Owner)
	assert.Equal(t, t0.Add(time.Hour), tk.ExpiresAt)
	assert.False(t, tk.CanComplete())

	used, err := tk.Deposit(quest.ItemStack{Item: "bounty:bread", Qty: 3}, t0)
	require.NoError(t, err)
	assert.Equal(t, 3, used)
	assert.Equal(t, StateInProgress, tk.State)
	assert.Equal(t, "3/5", tk.Progress().String())

	used, err = tk.Deposit(quest.ItemStack{Item: "bounty:bread", Qty: 9}, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, used, "only the remainder is consumed")
	assert.Equal(t, StateCompleted, tk.State)
	assert.True(t, tk.CanComplete())

	require.NoError(t, tk.Finish(t0))
	assert.Equal(t, StateFinished, tk.State)
	assert.True(t, tk.State.Terminal())
}

func TestAccept_ImmediatePolicy(t *testing.T) {
	tk := New(breadDef(t, 1), "b", "o")
	require.NoError(t, tk.Accept(1, t0, 0, BeginImmediate))
	assert.Equal(t, StateInProgress, tk.State)
	assert.True(t, tk.ExpiresAt.IsZero())
}

func TestDeposit_WrongItem(t *testing.T) {
	tk := New(breadDef(t, 2), "b", "o")
	require.NoError(t, tk.Accept(1, t0, 0, BeginOnFirstDeposit))
	_, err := tk.Deposit(quest.ItemStack{Item: "bounty:iron_ingot", Qty: 2}, t0)
	assert.ErrorIs(t, err, ErrWrongItem)
	assert.Equal(t, StateAccepted, tk.State)
}

func TestDeposit_AfterCompletionRejected(t *testing.T) {
	tk := New(breadDef(t, 1), "b", "o")
	require.NoError(t, tk.Accept(1, t0, 0, BeginImmediate))
	_, err := tk.Deposit(quest.ItemStack{Item: "bounty:bread", Qty: 1}, t0)
	require.NoError(t, err)
	_, err = tk.Deposit(quest.ItemStack{Item: "bounty:bread", Qty: 1}, t0)
	assert.ErrorIs(t, err, ErrNotDepositable)
}

func TestComplete_GuardedByProgress(t *testing.T) {
	tk := New(breadDef(t, 4), "b", "o")
	require.NoError(t, tk.Accept(1, t0, 0, BeginImmediate))
	assert.ErrorIs(t, tk.Complete(t0), ErrProgressIncomplete)
}

func TestFinish_GuardedByTurnIn(t *testing.T) {
	tk := New(breadDef(t, 4), "b", "o")
	tk.State = StateCompleted
	tk.Deposited = 2
	assert.ErrorIs(t, tk.Finish(t0), ErrTurnInRejected)
}

func TestFail(t *testing.T) {
	tk := New(breadDef(t, 4), "b", "o")
	require.NoError(t, tk.Accept(1, t0, 0, BeginImmediate))
	require.NoError(t, tk.Fail(ReasonBoardRemoved, t0))
	assert.Equal(t, StateFailed, tk.State)
	assert.Equal(t, ReasonBoardRemoved, tk.FailReason)

	// Terminal: nothing leaves failed.
	assert.ErrorIs(t, tk.Fail(ReasonExpired, t0), ErrInvalidTransition)
}

func TestFail_FromCompletedRejected(t *testing.T) {
	tk := New(breadDef(t, 1), "b", "o")
	tk.State = StateCompleted
	assert.ErrorIs(t, tk.Fail(ReasonExpired, t0), ErrInvalidTransition)
}

func TestExpired_UsesAbsoluteDeadline(t *testing.T) {
	tk := New(breadDef(t, 1), "b", "o")
	require.NoError(t, tk.Accept(1, t0, time.Minute, BeginOnFirstDeposit))
	assert.False(t, tk.Expired(t0.Add(59*time.Second)))
	assert.True(t, tk.Expired(t0.Add(time.Minute)))
	// Asking twice gives the same answer; nothing is decremented.
	assert.True(t, tk.Expired(t0.Add(time.Minute)))

	tk.State = StateCompleted
	assert.False(t, tk.Expired(t0.Add(time.Hour)))
}

func TestDeposit_PastDeadlineRefused(t *testing.T) {
	tk := New(breadDef(t, 4), "b", "o")
	require.NoError(t, tk.Accept(1, t0, time.Minute, BeginImmediate))

	used, err := tk.Deposit(quest.ItemStack{Item: "bounty:bread", Qty: 4}, t0.Add(10*time.Minute))
	assert.ErrorIs(t, err, ErrExpired)
	assert.Zero(t, used)
	assert.Zero(t, tk.Deposited)
	assert.Equal(t, StateInProgress, tk.State)

	used, err = tk.Deposit(quest.ItemStack{Item: "bounty:bread", Qty: 4}, t0.Add(59*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 4, used)
	assert.Equal(t, StateCompleted, tk.State)
}

func TestParseBeginPolicy(t *testing.T) {
	p, err := ParseBeginPolicy("")
	require.NoError(t, err)
	assert.Equal(t, BeginOnFirstDeposit, p)
	p, err = ParseBeginPolicy("immediate")
	require.NoError(t, err)
	assert.Equal(t, BeginImmediate, p)
	_, err = ParseBeginPolicy("sometimes")
	assert.Error(t, err)
}
