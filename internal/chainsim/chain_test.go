package chainsim

import (
	"context"
	"testing"
	"time"

	"github.com/ksred/intent-settlement/internal/database"
	"github.com/ksred/intent-settlement/internal/store"
	"github.com/ksred/intent-settlement/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstRecordedFillWinsChainState(t *testing.T) {
	chain := NewSimulatedChain()

	chain.RecordFill("ORD_1", "solverA", types.NewU256(100))
	chain.RecordFill("ORD_1", "solverB", types.NewU256(100))

	status, err := chain.OrderFillStatus(context.Background(), "ORD_1")
	require.NoError(t, err)
	assert.True(t, status.Filled)
	assert.Equal(t, "solverA", status.Solver)
}

func TestOrderFillStatusUnfilled(t *testing.T) {
	chain := NewSimulatedChain()

	status, err := chain.OrderFillStatus(context.Background(), "ORD_missing")
	require.NoError(t, err)
	assert.False(t, status.Filled)
	assert.Empty(t, status.Solver)
}

func TestFillEventsArePublished(t *testing.T) {
	chain := NewSimulatedChain()

	ev := chain.RecordFill("ORD_1", "solverA", types.NewU256(100))
	assert.Equal(t, uint64(1), ev.BlockNumber)

	got := <-chain.FillEvents()
	assert.Equal(t, "ORD_1", got.OrderID)
	assert.Equal(t, "solverA", got.Solver)

	chain.RecordFailure("ORD_2", "solverB", "reverted")
	failure := <-chain.FailureEvents()
	assert.Equal(t, "ORD_2", failure.OrderID)
	assert.Equal(t, "reverted", failure.Reason)
}

func TestPastFillEventsBlockRange(t *testing.T) {
	chain := NewSimulatedChain()

	chain.RecordFill("ORD_1", "solverA", types.NewU256(1)) // block 1
	chain.RecordFill("ORD_2", "solverB", types.NewU256(2)) // block 2
	chain.RecordFill("ORD_3", "solverC", types.NewU256(3)) // block 3

	all, err := chain.PastFillEvents(0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	middle, err := chain.PastFillEvents(2, 2)
	require.NoError(t, err)
	require.Len(t, middle, 1)
	assert.Equal(t, "ORD_2", middle[0].OrderID)

	tail, err := chain.PastFillEvents(2, 0)
	require.NoError(t, err)
	assert.Len(t, tail, 2)
}

func TestFillExecutorAlwaysSucceedingPublishesEvent(t *testing.T) {
	chain := NewSimulatedChain()
	exec := NewFillExecutor(chain)
	exec.MinLatency = 0
	exec.MaxLatency = 1
	exec.SuccessRate = 1.0

	order := &types.Order{
		DestinationChainID: 42161,
		Outputs: []types.MandatedOutput{
			{Token: "0xusdc", Amount: types.NewU256(500)},
		},
	}

	result, err := exec.ExecuteFill(context.Background(), "ORD_1", order)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.TxHash)

	status, err := chain.OrderFillStatus(context.Background(), "ORD_1")
	require.NoError(t, err)
	assert.True(t, status.Filled)
	assert.Equal(t, 0, status.Amount.Cmp(types.NewU256(500)))

	ev := <-chain.FillEvents()
	assert.Equal(t, "ORD_1", ev.OrderID)
}

func TestFinalizeExecutorUsesStoredSignature(t *testing.T) {
	db, err := database.NewDatabase("")
	require.NoError(t, err)
	st := store.NewStore(db, 0)

	exec := NewFinalizeExecutor(st)
	exec.MinLatency = 0
	exec.MaxLatency = 1
	exec.SuccessRate = 1.0

	// Unknown order: nothing to claim against.
	_, err = exec.FinalizeOrder(context.Background(), "ORD_missing")
	require.Error(t, err)

	record := &types.StoredOrderRecord{
		OrderID:    "ORD_1",
		Order:      types.Order{OriginChainID: 1},
		Signature:  []byte("signature"),
		AdmittedAt: time.Now(),
		Status:     types.StatusFilled,
	}
	require.NoError(t, st.Store(record))

	result, err := exec.FinalizeOrder(context.Background(), "ORD_1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.TxHash)
}

func TestFillExecutorAlwaysFailingPublishesFailure(t *testing.T) {
	chain := NewSimulatedChain()
	exec := NewFillExecutor(chain)
	exec.MinLatency = 0
	exec.MaxLatency = 1
	exec.SuccessRate = 0.0

	_, err := exec.ExecuteFill(context.Background(), "ORD_1", &types.Order{DestinationChainID: 42161})
	require.Error(t, err)

	status, qerr := chain.OrderFillStatus(context.Background(), "ORD_1")
	require.NoError(t, qerr)
	assert.False(t, status.Filled)

	failure := <-chain.FailureEvents()
	assert.Equal(t, "ORD_1", failure.OrderID)
}
